package controller

import (
	"context"

	"CoralPlay/core/stream"
	"CoralPlay/logger"
	"CoralPlay/model"
	"CoralPlay/storage"
)

// AudioFetcher 为播放引擎取音频数据：
// 先查对象缓存，未命中再经弹性流客户端解析流地址并下载，之后回填缓存。
type AudioFetcher struct {
	client  *stream.Client
	store   *storage.AudioStore // 可为 nil，表示不启用对象缓存
	quality string
}

// NewAudioFetcher 创建音频拉取器
func NewAudioFetcher(client *stream.Client, store *storage.AudioStore, quality string) *AudioFetcher {
	return &AudioFetcher{client: client, store: store, quality: quality}
}

func (f *AudioFetcher) cacheKey(trackID string) string {
	return trackID + "/" + f.quality
}

// FetchAudio 实现 engine.Fetcher
func (f *AudioFetcher) FetchAudio(ctx context.Context, track *model.Track) ([]byte, string, error) {
	key := f.cacheKey(track.ID)
	if f.store != nil {
		if data, format, ok := f.store.Get(ctx, key); ok {
			return data, format, nil
		}
	}

	info, err := f.client.GetTrackStream(ctx, track.ID, f.quality)
	if err != nil {
		return nil, "", err
	}

	data, format, err := f.client.FetchAudio(ctx, info.URL)
	if err != nil {
		return nil, "", err
	}
	if format == "" {
		format = info.Format
	}

	if f.store != nil {
		// 回填缓存不阻塞播放
		go func() {
			if err := f.store.Put(context.Background(), key, data, format); err != nil {
				logger.Debug("音频缓存回填失败",
					logger.String("trackId", track.ID),
					logger.ErrorField(err))
			}
		}()
	}
	return data, format, nil
}
