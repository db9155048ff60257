// Package config は環境変数から設定を読み込み、OCRワーカーとオペレーション用APIで使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // オペレーション用APIのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// ジョブ/キュー設定
	QueueRedisURL     string // Asynq用Redis接続URL
	QueueName         string // OCRタスクを投入するキュー名
	WorkerConcurrency int    // Asynqワーカーの同時実行数
	GroupTTLMinutes   int    // バッチグループ情報の保持期間（分）

	// データベース設定
	DatabaseDriver string // sqlite または postgres
	DatabaseURL    string // SQLiteのファイルパス、またはPostgreSQLの接続文字列

	// 分割設定
	BatchSize            int // 1バッチあたりのページ数
	PartitionParallelism int // 分割時に同時に書き出すバッチ数

	// OCR設定
	OCRStrategy     string // embedded または rasterize
	OcrmypdfPath    string // ocrmypdf実行ファイルのパス
	TesseractPath   string // tesseract実行ファイルのパス
	GhostscriptPath string // Ghostscript実行ファイルのパス
	OCRLanguage     string // OCR言語 (例: eng, jpn+eng)
	RasterDPI       int    // rasterize方式の解像度

	// 結合設定
	PartialFailurePolicy   string // lenient または strict
	FailOnAggregationError bool   // 結合失敗時にファイルを Failed にする

	// 成果物の保管
	ArchiveDir string // 完成ファイルのコピー先ディレクトリ（空なら無効）

	// GCP設定（本番環境用）
	GCPProject     string // GCPプロジェクトID
	GCSBucket      string // 完成ファイルのアップロード先バケット（空なら無効）
	ServiceAccount string // サービスアカウント鍵ファイルのパス
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// ジョブ/キュー設定
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueName:         getEnv("QUEUE_NAME", "ocr"),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		GroupTTLMinutes:   getEnvAsInt("GROUP_TTL_MINUTES", 24*60),

		// データベース設定
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "ocrondemand.db"),

		// 分割設定
		BatchSize:            getEnvAsInt("BATCH_SIZE", 10),
		PartitionParallelism: getEnvAsInt("PARTITION_PARALLELISM", 4),

		// OCR設定
		OCRStrategy:     getEnv("OCR_STRATEGY", "embedded"),
		OcrmypdfPath:    getEnv("OCRMYPDF_PATH", "ocrmypdf"),
		TesseractPath:   getEnv("TESSERACT_PATH", "tesseract"),
		GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", "gs"),
		OCRLanguage:     getEnv("OCR_LANGUAGE", "eng"),
		RasterDPI:       getEnvAsInt("RASTER_DPI", 300),

		// 結合設定
		PartialFailurePolicy:   getEnv("PARTIAL_FAILURE_POLICY", "lenient"),
		FailOnAggregationError: getEnvAsBool("FAIL_ON_AGGREGATION_ERROR", false),

		// 成果物の保管
		ArchiveDir: getEnv("ARCHIVE_DIR", ""),

		// GCP設定
		GCPProject:     getEnv("GCP_PROJECT", ""),
		GCSBucket:      getEnv("GCS_BUCKET", ""),
		ServiceAccount: getEnv("SERVICE_ACCOUNT", ""),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// GroupTTL はバッチグループ情報の保持期間を返します。
func (c *Config) GroupTTL() time.Duration {
	if c.GroupTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.GroupTTLMinutes) * time.Minute
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres (got %q)", c.DatabaseDriver)
	}
	switch strings.ToLower(c.OCRStrategy) {
	case "embedded", "rasterize":
	default:
		return fmt.Errorf("OCR_STRATEGY must be embedded or rasterize (got %q)", c.OCRStrategy)
	}
	switch strings.ToLower(c.PartialFailurePolicy) {
	case "lenient", "strict":
	default:
		return fmt.Errorf("PARTIAL_FAILURE_POLICY must be lenient or strict (got %q)", c.PartialFailurePolicy)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}

	// 本番環境では外部依存の設定を厳格にチェックする
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
		if c.GCSBucket != "" && c.GCPProject == "" {
			return fmt.Errorf("GCP_PROJECT is required when GCS_BUCKET is set")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
