// Package config reads dbhelper settings from the environment, seeded from .env files.
package config

// Config reads string settings by key.
type Config interface {
	Get(string) string
	GetOrDefault(string, string) string
}
