package library

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"CoralPlay/logger"
	"CoralPlay/model"

	"github.com/fsnotify/fsnotify"
)

// Library 本地曲库：扫描目录下的音频文件并以 Provider 形式对外提供。
// 目录变更通过 fsnotify 触发重扫。
type Library struct {
	mu     sync.RWMutex
	dir    string
	tracks map[string]model.Track // 曲目ID → 曲目
	paths  map[string]string      // 曲目ID → 绝对路径

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New 创建本地曲库并做一次全量扫描
func New(dir string) (*Library, error) {
	l := &Library{
		dir:    dir,
		tracks: make(map[string]model.Track),
		paths:  make(map[string]string),
		done:   make(chan struct{}),
	}
	if err := l.Scan(); err != nil {
		return nil, err
	}
	return l, nil
}

func audioFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "mp3"
	case ".wav":
		return "wav"
	default:
		return ""
	}
}

// trackID 以相对路径作为曲目ID，重扫后保持稳定
func (l *Library) trackID(path string) string {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		return path
	}
	return "local:" + filepath.ToSlash(rel)
}

// Scan 全量扫描目录，重建曲目表
func (l *Library) Scan() error {
	tracks := make(map[string]model.Track)
	paths := make(map[string]string)

	err := filepath.Walk(l.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || audioFormat(path) == "" {
			return nil
		}

		id := l.trackID(path)
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		artist := "Unknown Artist"
		// 常见命名习惯 "artist - title"
		if parts := strings.SplitN(name, " - ", 2); len(parts) == 2 {
			artist = strings.TrimSpace(parts[0])
			name = strings.TrimSpace(parts[1])
		}

		tracks[id] = model.Track{
			ID:      id,
			Title:   name,
			Artists: []string{artist},
			Album:   filepath.Base(filepath.Dir(path)),
			Source:  "local",
		}
		paths[id] = path
		return nil
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.tracks = tracks
	l.paths = paths
	l.mu.Unlock()

	logger.Info("本地曲库扫描完成",
		logger.String("dir", l.dir),
		logger.Int("tracks", len(tracks)))
	return nil
}

// Watch 监听目录变更并触发重扫
func (l *Library) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return err
	}
	l.watcher = watcher

	go func() {
		for {
			select {
			case <-l.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					logger.Debug("曲库目录变更，触发重扫", logger.String("event", event.String()))
					if err := l.Scan(); err != nil {
						logger.Warn("曲库重扫失败", logger.ErrorField(err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("曲库监听错误", logger.ErrorField(err))
			}
		}
	}()
	return nil
}

// Close 停止监听
func (l *Library) Close() {
	close(l.done)
	if l.watcher != nil {
		l.watcher.Close()
	}
}

// Tracks 返回全部曲目，按标题排序
func (l *Library) Tracks() []model.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Track, 0, len(l.tracks))
	for _, t := range l.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Search 按标题/艺人子串匹配
func (l *Library) Search(_ context.Context, query string, limit, offset int) (*model.SearchResult, error) {
	q := strings.ToLower(query)

	var hits []model.Track
	for _, t := range l.Tracks() {
		if strings.Contains(strings.ToLower(t.Title), q) ||
			strings.Contains(strings.ToLower(strings.Join(t.Artists, " ")), q) {
			hits = append(hits, t)
		}
	}

	total := len(hits)
	if offset > len(hits) {
		offset = len(hits)
	}
	hits = hits[offset:]
	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	return &model.SearchResult{Tracks: hits, Total: total}, nil
}

// GetTrackDetail 获取曲目详情
func (l *Library) GetTrackDetail(_ context.Context, trackID string) (*model.Track, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.tracks[trackID]
	if !ok {
		return nil, model.ErrTrackNotFound
	}
	return &t, nil
}

// GetAlbum 以目录名聚合专辑
func (l *Library) GetAlbum(_ context.Context, albumID string) (*model.Album, error) {
	album := &model.Album{ID: albumID, Name: albumID}
	for _, t := range l.Tracks() {
		if t.Album == albumID {
			album.Tracks = append(album.Tracks, t)
		}
	}
	if len(album.Tracks) == 0 {
		return nil, model.ErrTrackNotFound
	}
	return album, nil
}

// GetTrackStream 本地文件的"流地址"就是文件路径
func (l *Library) GetTrackStream(_ context.Context, trackID, quality string) (*model.StreamInfo, error) {
	l.mu.RLock()
	path, ok := l.paths[trackID]
	l.mu.RUnlock()
	if !ok {
		return nil, model.ErrTrackNotFound
	}

	return &model.StreamInfo{
		TrackID: trackID,
		URL:     path,
		Quality: quality,
		Format:  audioFormat(path),
	}, nil
}

// GetLyrics 本地曲库不提供歌词
func (l *Library) GetLyrics(_ context.Context, trackID string) (string, error) {
	return "", nil
}

// LikeTrack 本地曲库的收藏是空操作
func (l *Library) LikeTrack(_ context.Context, trackID string) error {
	return nil
}

// FetchAudio 直接读文件
func (l *Library) FetchAudio(_ context.Context, path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, audioFormat(path), nil
}
