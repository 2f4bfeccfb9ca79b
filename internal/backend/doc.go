// Package backend holds helpers shared by analysis backend clients.
package backend
