package interfaces

// Config содержит конфигурацию для ядра WhisperMesh
type Config struct {
	Mesh     MeshConfig     `json:"mesh"`
	Pipeline PipelineConfig `json:"pipeline"`
	Storage  StorageConfig  `json:"storage"`
}

// MeshConfig настройки real-time сессий
type MeshConfig struct {
	STUNServerURL string `json:"stunServerURL"`
}

// PipelineConfig настройки конвейера расшифровки
type PipelineConfig struct {
	PreviewMaxBytes int64 `json:"previewMaxBytes"`
}

// StorageConfig настройки локального хранилища
type StorageConfig struct {
	DBPath string `json:"dbPath"`
	LogDir string `json:"logDir"`
}
