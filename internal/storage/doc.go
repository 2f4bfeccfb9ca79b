// Package storage provides namespaced key/value persistence backends for
// the analysis cache, history and usage statistics.
package storage
