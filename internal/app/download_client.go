package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

const (
	DefaultProviderTimeout = 8 * time.Second
	defaultInitAttempts    = 3
	defaultInitBackoff     = time.Second
	maxProviderPayload     = 4 << 20
)

// DownloadClient parle au backend de liens de téléchargement: un appel init (session + liste de serveurs)
// puis un appel par serveur.
type DownloadClient struct {
	logger  zerolog.Logger
	baseURL string
	client  *http.Client

	ProviderTimeout time.Duration
	InitAttempts    uint
	InitBackoff     time.Duration
}

func NewDownloadClient(logger zerolog.Logger, baseURL string) *DownloadClient {
	return &DownloadClient{
		logger:          logger,
		baseURL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:          &http.Client{Timeout: 20 * time.Second},
		ProviderTimeout: DefaultProviderTimeout,
		InitAttempts:    defaultInitAttempts,
		InitBackoff:     defaultInitBackoff,
	}
}

func (c *DownloadClient) WithHTTPClient(client *http.Client) *DownloadClient {
	if client != nil {
		c.client = client
	}
	return c
}

type InitResult struct {
	Success      bool     `json:"success"`
	SourceList   []string `json:"sourceList"`
	SecretKey    string   `json:"secretKey"`
	TotalServers int      `json:"totalServers"`
}

type initPayload struct {
	SourceList []string `json:"sourceList"`
	Servers    []string `json:"servers"`
	SecretKey  string   `json:"secretKey"`
	Key        string   `json:"key"`
	Data       *struct {
		SourceList []string `json:"sourceList"`
		SecretKey  string   `json:"secretKey"`
	} `json:"data"`
}

// Init ouvre une session auprès du backend. Échec fatal pour l'agrégation:
// réessayé InitAttempts fois avec un délai fixe.
func (c *DownloadClient) Init(ctx context.Context, id string) (InitResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return InitResult{}, &CodedError{Code: "invalid_params", Message: "missing id"}
	}
	if c.baseURL == "" {
		return InitResult{}, &CodedError{Code: "bootstrap_failed", Message: "download backend not configured", Err: ErrBootstrapFailed}
	}

	attempts := c.InitAttempts
	if attempts == 0 {
		attempts = 1
	}

	var out InitResult
	err := retry.Do(
		func() error {
			res, err := c.initOnce(ctx, id)
			if err != nil {
				return err
			}
			out = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.InitBackoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Str("id", id).Msg("download init failed, retrying")
		}),
	)
	if err != nil {
		return InitResult{}, &CodedError{Code: "bootstrap_failed", Message: "download init failed", Err: errors.Join(ErrBootstrapFailed, err)}
	}
	return out, nil
}

func (c *DownloadClient) initOnce(ctx context.Context, id string) (InitResult, error) {
	u := c.baseURL + "/init?" + url.Values{"id": {id}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return InitResult{}, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "streamhub")

	resp, err := c.client.Do(req)
	if err != nil {
		return InitResult{}, &CodedError{Code: "network_error", Message: "init request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return InitResult{}, &CodedError{Code: "http_status", Message: "init http error: " + resp.Status}
	}

	var p initPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderPayload)).Decode(&p); err != nil {
		return InitResult{}, fmt.Errorf("decode init: %w", err)
	}
	list, key := p.SourceList, p.SecretKey
	if len(list) == 0 {
		list = p.Servers
	}
	if key == "" {
		key = p.Key
	}
	if p.Data != nil {
		if len(list) == 0 {
			list = p.Data.SourceList
		}
		if key == "" {
			key = p.Data.SecretKey
		}
	}
	list = cleanServerList(list)
	if len(list) == 0 {
		return InitResult{}, errors.New("init returned no servers")
	}
	return InitResult{Success: true, SourceList: list, SecretKey: key, TotalServers: len(list)}, nil
}

func cleanServerList(list []string) []string {
	out := make([]string, 0, len(list))
	seen := map[string]struct{}{}
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

type ServerRequest struct {
	ID        string
	Type      domain.ContentType
	Title     string
	Server    string
	SecretKey string
	Season    int
	Episode   int
}

type ServerResult struct {
	Success  bool                `json:"success"`
	Server   string              `json:"server"`
	Links    []domain.LinkRecord `json:"links"`
	Captions []domain.Caption    `json:"captions,omitempty"`
	// Reason explique un échec; jamais renvoyé comme erreur.
	Reason string `json:"-"`
}

func emptyResult(server, reason string) ServerResult {
	return ServerResult{Success: false, Server: server, Links: []domain.LinkRecord{}, Reason: reason}
}

// FetchServer interroge un seul serveur. Toute erreur (réseau, timeout, statut, payload) donne un résultat vide.
// Pas de retry à ce niveau.
func (c *DownloadClient) FetchServer(ctx context.Context, req ServerRequest) ServerResult {
	if strings.TrimSpace(req.Server) == "" {
		return emptyResult(req.Server, "missing server")
	}
	if c.baseURL == "" {
		return emptyResult(req.Server, "download backend not configured")
	}

	timeout := c.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := url.Values{}
	q.Set("id", req.ID)
	q.Set("type", string(req.Type))
	q.Set("server", req.Server)
	q.Set("secretKey", req.SecretKey)
	if req.Title != "" {
		q.Set("title", req.Title)
	}
	if req.Type.Episodic() {
		q.Set("season", strconv.Itoa(max(req.Season, 1)))
		q.Set("episode", strconv.Itoa(max(req.Episode, 1)))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/server?"+q.Encode(), nil)
	if err != nil {
		return emptyResult(req.Server, err.Error())
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "streamhub")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return emptyResult(req.Server, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return emptyResult(req.Server, "http error: "+resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderPayload))
	if err != nil {
		return emptyResult(req.Server, err.Error())
	}
	return c.normalize(req.Server, b, time.Now())
}

func (c *DownloadClient) normalize(server string, payload []byte, now time.Time) ServerResult {
	var envelope struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Success != nil && !*envelope.Success {
		return emptyResult(server, "upstream reported failure")
	}

	sources, captions := adapterFor(server)(payload)
	links := ToLinkRecords(server, sources, now)
	if failures := ParseFailures(sources); len(failures) > 0 {
		c.logger.Debug().Str("server", server).Strs("failures", failures).Msg("provider payload partially unparsed")
	}
	if len(links) == 0 {
		reason := "no playable links"
		if failures := ParseFailures(sources); len(failures) > 0 {
			reason = failures[0]
		}
		res := emptyResult(server, reason)
		res.Captions = captions
		return res
	}
	domain.SortLinks(links)
	return ServerResult{Success: true, Server: server, Links: links, Captions: captions}
}

// ServerSource expose un serveur du backend comme source de l'agrégateur.
type ServerSource struct {
	client *DownloadClient
	name   string
}

func (c *DownloadClient) Source(name string) ServerSource {
	return ServerSource{client: c, name: name}
}

func (s ServerSource) Name() string { return s.name }

func (s ServerSource) Fetch(ctx context.Context, req ServerRequest) ServerResult {
	req.Server = s.name
	return s.client.FetchServer(ctx, req)
}

// Sources renvoie une source d'agrégation par serveur annoncé par Init.
func (c *DownloadClient) Sources(init InitResult) []LinkSource {
	out := make([]LinkSource, 0, len(init.SourceList))
	for _, name := range init.SourceList {
		out = append(out, c.Source(name))
	}
	return out
}
