package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/config"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/files"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/jobs"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/storage"
)

// jobService はオペレーション用APIが使うジョブ操作です。*jobs.Manager が満たします。
type jobService interface {
	Dispatch(ctx context.Context, fileID int64) (string, error)
	Status(ctx context.Context, fileID int64) (*jobs.JobStatus, error)
}

// setupJobs はグループ用のRedisクライアントとジョブマネージャーを作成します。
// 返り値の関数はRedisクライアントを閉じます。
func setupJobs(cfg *config.Config, deps jobs.Deps) (*jobs.Manager, func() error, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}

	redisClient := redis.NewClient(opt)
	deps.Groups = jobs.NewRedisGroups(redisClient, cfg.GroupTTL())
	manager, err := jobs.NewManager(cfg, deps)
	if err != nil {
		redisClient.Close()
		return nil, nil, err
	}
	return manager, redisClient.Close, nil
}

// setupPublisher は設定に応じて完成ファイルの保管先を組み立てます。保管先が無い場合は nil を返します。
func setupPublisher(ctx context.Context, cfg *config.Config) (pipeline.Publisher, func(), error) {
	var publishers storage.Multi
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.ArchiveDir != "" {
		publishers = append(publishers, &storage.LocalPublisher{Dir: cfg.ArchiveDir})
	}
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSPublisher(ctx, cfg.GCSBucket, "ocr", cfg.ServiceAccount)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, func() {
			if err := gcs.Close(); err != nil {
				slog.Warn("failed to close storage client", "error", err)
			}
		})
		publishers = append(publishers, gcs)
	}

	if len(publishers) == 0 {
		return nil, closeAll, nil
	}
	return publishers, closeAll, nil
}

// setupRoutes はオペレーション用のルーティングを行います。
func setupRoutes(router *gin.Engine, svc jobService) {
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		api.GET("/jobs/:id", jobStatusHandler(svc))
		api.POST("/jobs/:id/dispatch", jobDispatchHandler(svc))
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ocrondemand-worker",
		"version": "0.1.0",
	})
}

func jobStatusHandler(svc jobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID, ok := parseFileID(c)
		if !ok {
			return
		}

		status, err := svc.Status(c.Request.Context(), fileID)
		if err != nil {
			respondWithError(c, err, "ジョブ情報の取得に失敗しました。")
			return
		}

		payload := gin.H{
			"fileId":      status.File.ID,
			"fileName":    status.File.FileName,
			"status":      status.File.Status,
			"completedAt": status.File.CompletedAt,
		}
		if status.File.OutputPath != "" {
			payload["output"] = gin.H{
				"path":  status.File.OutputPath,
				"pages": status.File.OutputPages,
			}
		}
		if g := status.Group; g != nil {
			workflow := gin.H{
				"workflowId": g.WorkflowID,
				"stage":      g.Stage,
				"batches":    g.Expected,
				"progress":   g.Progress,
				"updatedAt":  g.UpdatedAt,
			}
			if g.Result != nil && len(g.Result.Omitted) > 0 {
				workflow["omitted"] = g.Result.Omitted
			}
			if g.Error != nil {
				workflow["error"] = g.Error
			}
			payload["workflow"] = workflow
		}

		c.JSON(http.StatusOK, payload)
	}
}

func jobDispatchHandler(svc jobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID, ok := parseFileID(c)
		if !ok {
			return
		}

		workflowID, err := svc.Dispatch(c.Request.Context(), fileID)
		if err != nil {
			respondWithError(c, err, "ジョブの投入に失敗しました。")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"fileId":     fileID,
			"workflowId": workflowID,
			"status":     files.StatusProcessing,
		})
	}
}

func parseFileID(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.Param("id"))
	fileID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || fileID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "ファイルIDを正しく指定してください。",
		})
		return 0, false
	}
	return fileID, true
}

func respondWithError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, files.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "FILE_NOT_FOUND",
			"message": "指定されたファイルは存在しません。",
		})
	case errors.Is(err, files.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "INVALID_STATUS",
			"message": "このファイルは現在の状態では処理できません。",
		})
	default:
		slog.Error("ops request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": fallback,
		})
	}
}
