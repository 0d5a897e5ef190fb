package config

import _ "embed"

// DefaultConfigYAML バイナリに埋め込むデフォルト設定
//
//go:embed default.yaml
var DefaultConfigYAML []byte
