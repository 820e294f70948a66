package provider

import (
	"context"

	"CoralPlay/model"
)

// Provider 目录/流媒体服务的统一接口。
// 每个曲目ID可解析出流地址、时长与码率元数据；
// 失败以带状态码/消息的类型化错误暴露，供流客户端判定可重试性。
type Provider interface {
	// Search 搜索曲目
	Search(ctx context.Context, query string, limit, offset int) (*model.SearchResult, error)

	// GetTrackDetail 获取曲目详情
	GetTrackDetail(ctx context.Context, trackID string) (*model.Track, error)

	// GetAlbum 获取专辑详情
	GetAlbum(ctx context.Context, albumID string) (*model.Album, error)

	// GetTrackStream 解析曲目的流地址与质量元数据
	GetTrackStream(ctx context.Context, trackID, quality string) (*model.StreamInfo, error)

	// GetLyrics 获取歌词文本
	GetLyrics(ctx context.Context, trackID string) (string, error)

	// LikeTrack 收藏曲目
	LikeTrack(ctx context.Context, trackID string) error

	// FetchAudio 下载整段音频数据，返回数据与格式标识（mp3/wav）
	FetchAudio(ctx context.Context, url string) (data []byte, format string, err error)
}
