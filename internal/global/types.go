package global

// Typed context key to avoid collisions with keys set by other packages.
type CtxKey string
