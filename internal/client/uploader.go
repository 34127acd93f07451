package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/makeasinger/videoagent/internal/model"
)

// VideoUploader copies a compiled video into object storage so the final
// URL outlives the compiler's scratch space. With no store configured the
// compiled URL is published as-is.
type VideoUploader struct {
	store  ObjectStore
	http   *resty.Client
	logger *zap.Logger
}

func NewVideoUploader(store ObjectStore, logger *zap.Logger) *VideoUploader {
	return &VideoUploader{
		store:  store,
		http:   resty.New().SetTimeout(10 * time.Minute),
		logger: logger,
	}
}

func (u *VideoUploader) UploadVideo(ctx context.Context, taskID string, video model.CompiledVideo) (*model.UploadedVideo, error) {
	if u.store == nil {
		u.logger.Debug("object storage not configured, publishing compiler url", zap.String("task_id", taskID))
		return &model.UploadedVideo{URL: video.URL, MimeType: video.MimeType}, nil
	}

	resp, err := u.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(video.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to download compiled video: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("compiled video download failed (status %d)", resp.StatusCode())
	}

	size := resp.RawResponse.ContentLength
	key := fmt.Sprintf("videos/%s/final.mp4", taskID)
	url, err := u.store.Upload(ctx, key, resp.Body, size, video.MimeType)
	if err != nil {
		return nil, err
	}

	u.logger.Info("video uploaded",
		zap.String("task_id", taskID),
		zap.String("key", key),
		zap.Int64("size", size),
	)
	return &model.UploadedVideo{URL: url, Key: key, MimeType: video.MimeType, Size: size}, nil
}
