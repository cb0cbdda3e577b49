// Package utils provides utility functions for the application.
package utils

func ToPtr[T any](v T) *T {
	return &v
}

func IsTrue(b *bool) bool {
	return b != nil && *b
}

func ValueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
