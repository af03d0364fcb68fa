//go:build production

package otp

const bypassCompiledIn = false
