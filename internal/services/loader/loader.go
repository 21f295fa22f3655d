// Package loader triggers service registration via blank imports.
// Import this package to ensure all services are registered with the registry.
package loader

import (
	_ "github.com/MahdiBaghbani/userservice-go/internal/services/admin"
	_ "github.com/MahdiBaghbani/userservice-go/internal/services/metrics"
)
