package config

import (
	"WhisperMesh/pkg/interfaces"
)

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *interfaces.Config {
	return &interfaces.Config{
		Mesh: interfaces.MeshConfig{
			STUNServerURL: "stun:stun.l.google.com:19302",
		},
		Pipeline: interfaces.PipelineConfig{
			PreviewMaxBytes: 8 << 20,
		},
		Storage: interfaces.StorageConfig{
			DBPath: "whispermesh.db",
			LogDir: "logs",
		},
	}
}
