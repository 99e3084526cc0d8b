package main

import (
	"strings"

	"github.com/amigadave/kdbus/internal/broker"
	"github.com/amigadave/kdbus/internal/namespace"
)

// resolveNamespace walks a slash-separated path of namespace names under
// the broker's root, creating any namespace that doesn't already exist.
// An empty path returns the root namespace itself.
func resolveNamespace(b *broker.Broker, path string) (*namespace.Namespace, error) {
	ns := b.Root()
	if path == "" {
		return ns, nil
	}

	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if existing := b.Namespaces().Find(ns, part); existing != nil {
			ns = existing
			continue
		}
		child, err := b.NewNamespace(ns, part)
		if err != nil {
			return nil, err
		}
		ns = child
	}
	return ns, nil
}
