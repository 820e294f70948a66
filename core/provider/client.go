package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"CoralPlay/logger"
	"CoralPlay/model"
)

// HTTPClient 远程目录/流媒体API客户端
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	session    *Session
}

// NewHTTPClient 创建API客户端
func NewHTTPClient(baseURL string, timeout time.Duration, session *Session) *HTTPClient {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		session:    session,
	}
}

// createRequest 构造请求并附加会话令牌
func (c *HTTPClient) createRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// doJSON 发送请求并解析JSON响应。
// 非 2xx 状态码转成 *model.ProviderError，供重试层按状态码分类。
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	if err := c.session.Check(); err != nil {
		return err
	}

	req, err := c.createRequest(ctx, method, path, query)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.ProviderError{Method: method + " " + path, Message: "Network error: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			msg = "Authentication failed"
		}
		return &model.ProviderError{Method: method + " " + path, Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.ProviderError{Method: method + " " + path, Message: "decode response: " + err.Error()}
	}
	return nil
}

type searchResponse struct {
	Result struct {
		Songs []trackPayload `json:"songs"`
		Total int            `json:"total"`
	} `json:"result"`
}

type trackPayload struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Artists  []string `json:"artists"`
	Album    string   `json:"album"`
	Duration float64  `json:"duration"`
	CoverURL string   `json:"coverUrl"`
}

func (p trackPayload) toTrack() model.Track {
	return model.Track{
		ID:       p.ID,
		Title:    p.Title,
		Artists:  p.Artists,
		Album:    p.Album,
		Duration: p.Duration,
		CoverURL: p.CoverURL,
		Source:   "remote",
	}
}

// Search 搜索曲目
func (c *HTTPClient) Search(ctx context.Context, query string, limit, offset int) (*model.SearchResult, error) {
	q := url.Values{}
	q.Set("keywords", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var resp searchResponse
	if err := c.doJSON(ctx, http.MethodGet, "/search", q, &resp); err != nil {
		return nil, err
	}

	result := &model.SearchResult{Total: resp.Result.Total}
	for _, s := range resp.Result.Songs {
		result.Tracks = append(result.Tracks, s.toTrack())
	}
	return result, nil
}

// GetTrackDetail 获取曲目详情
func (c *HTTPClient) GetTrackDetail(ctx context.Context, trackID string) (*model.Track, error) {
	q := url.Values{}
	q.Set("id", trackID)

	var resp struct {
		Song *trackPayload `json:"song"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/song/detail", q, &resp); err != nil {
		return nil, err
	}
	if resp.Song == nil {
		return nil, model.ErrTrackNotFound
	}
	track := resp.Song.toTrack()
	return &track, nil
}

// GetAlbum 获取专辑详情
func (c *HTTPClient) GetAlbum(ctx context.Context, albumID string) (*model.Album, error) {
	q := url.Values{}
	q.Set("id", albumID)

	var resp struct {
		Album struct {
			ID       string         `json:"id"`
			Name     string         `json:"name"`
			Artist   string         `json:"artist"`
			CoverURL string         `json:"coverUrl"`
			Songs    []trackPayload `json:"songs"`
		} `json:"album"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/album", q, &resp); err != nil {
		return nil, err
	}

	album := &model.Album{
		ID:       resp.Album.ID,
		Name:     resp.Album.Name,
		Artist:   resp.Album.Artist,
		CoverURL: resp.Album.CoverURL,
	}
	for _, s := range resp.Album.Songs {
		album.Tracks = append(album.Tracks, s.toTrack())
	}
	return album, nil
}

// GetTrackStream 解析曲目的流地址与质量元数据
func (c *HTTPClient) GetTrackStream(ctx context.Context, trackID, quality string) (*model.StreamInfo, error) {
	q := url.Values{}
	q.Set("id", trackID)
	q.Set("quality", quality)

	var resp struct {
		Data struct {
			URL      string  `json:"url"`
			Bitrate  int     `json:"br"`
			Format   string  `json:"format"`
			Duration float64 `json:"duration"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/song/url", q, &resp); err != nil {
		return nil, err
	}
	if resp.Data.URL == "" {
		return nil, model.ErrTrackNotFound
	}

	return &model.StreamInfo{
		TrackID:  trackID,
		URL:      resp.Data.URL,
		Bitrate:  resp.Data.Bitrate,
		Quality:  quality,
		Format:   resp.Data.Format,
		Duration: resp.Data.Duration,
	}, nil
}

// GetLyrics 获取歌词文本
func (c *HTTPClient) GetLyrics(ctx context.Context, trackID string) (string, error) {
	q := url.Values{}
	q.Set("id", trackID)

	var resp struct {
		Lyric string `json:"lyric"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/lyric", q, &resp); err != nil {
		return "", err
	}
	return resp.Lyric, nil
}

// LikeTrack 收藏曲目
func (c *HTTPClient) LikeTrack(ctx context.Context, trackID string) error {
	q := url.Values{}
	q.Set("id", trackID)
	return c.doJSON(ctx, http.MethodPost, "/like", q, nil)
}

// FetchAudio 下载整段音频。格式标识取自 Content-Type，
// 取不到时按 URL 后缀判断，默认 mp3。
func (c *HTTPClient) FetchAudio(ctx context.Context, audioURL string) ([]byte, string, error) {
	if err := c.session.Check(); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &model.ProviderError{Method: "fetchAudio", Message: "Network error: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &model.ProviderError{Method: "fetchAudio", Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &model.ProviderError{Method: "fetchAudio", Message: "Network error: " + err.Error()}
	}

	format := formatFromContentType(resp.Header.Get("Content-Type"))
	if format == "" {
		format = formatFromURL(audioURL)
	}

	logger.Debug("音频下载完成",
		logger.String("url", audioURL),
		logger.Int("bytes", len(data)),
		logger.String("format", format))
	return data, format, nil
}

func formatFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "wav"):
		return "wav"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	default:
		return ""
	}
}

func formatFromURL(u string) string {
	if strings.HasSuffix(strings.ToLower(u), ".wav") {
		return "wav"
	}
	return "mp3"
}
