/**
 * Translation layer for extracted text blocks.
 *
 * The default engine talks to an OpenAI-compatible chat completions endpoint
 * at temperature zero, so repeated calls on the same (text, source, target)
 * input produce the same output. That idempotence is what makes the optional
 * cache wrapper legal.
 */

package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
)

// Translator converts text between languages. Implementations must be
// idempotent for identical (text, sourceLang, targetLang) inputs.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

const (
	// maxTranslateRetries bounds retries on transient HTTP failures.
	maxTranslateRetries = 2
	systemPromptFormat  = "You are a professional manga translator. Translate the user's text from %s to %s. Reply with only the translated text, no explanations or quotes."
)

// OpenAITranslator translates via an OpenAI-compatible chat completions API.
type OpenAITranslator struct {
	apiKey  string
	apiURL  string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewOpenAITranslator creates a translator against the given base URL (the
// /chat/completions suffix is appended if missing). timeout bounds each
// translation call.
func NewOpenAITranslator(apiKey, apiURL, model string, timeout time.Duration) *OpenAITranslator {
	return &OpenAITranslator{
		apiKey:  apiKey,
		apiURL:  normalizeAPIURL(apiURL),
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout + 5*time.Second},
	}
}

// normalizeAPIURL ensures the API URL ends with /chat/completions.
func normalizeAPIURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	if strings.HasSuffix(url, "/chat/completions") {
		return url
	}
	return url + "/chat/completions"
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Translate translates text between two supported languages. An identical
// source and target pair is returned unchanged without a network call.
func (t *OpenAITranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if !SupportedLanguage(sourceLang) || !SupportedLanguage(targetLang) {
		return "", pkgerrors.NewUnsupportedLanguagePairError(sourceLang, targetLang)
	}
	if sourceLang == targetLang {
		return text, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var result string
	operation := func() error {
		out, err := t.complete(callCtx, text, sourceLang, targetLang)
		if err != nil {
			return err
		}
		result = out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxTranslateRetries),
		callCtx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", pkgerrors.NewTranslationTimeoutError(t.timeout, err)
		}
		return "", err
	}
	return result, nil
}

func (t *OpenAITranslator) complete(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: t.model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPromptFormat, sourceLang, targetLang)},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	// 429 and 5xx are retryable; other non-200s are not.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("translation API HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return "", backoff.Permanent(fmt.Errorf("translation API HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("translation API error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("translation API returned no choices"))
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// TranslationCache stores finished translations keyed by input digest.
type TranslationCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// CachedTranslator wraps a Translator with a cache. Correct only because the
// Translator contract is idempotent.
type CachedTranslator struct {
	inner Translator
	cache TranslationCache
}

// NewCachedTranslator wraps inner with cache.
func NewCachedTranslator(inner Translator, cache TranslationCache) *CachedTranslator {
	return &CachedTranslator{inner: inner, cache: cache}
}

// Translate returns the cached output when present, otherwise delegates and
// stores the result.
func (c *CachedTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	key := translationKey(text, sourceLang, targetLang)
	if out, ok := c.cache.Get(ctx, key); ok {
		return out, nil
	}
	out, err := c.inner.Translate(ctx, text, sourceLang, targetLang)
	if err != nil {
		return "", err
	}
	c.cache.Set(ctx, key, out)
	return out, nil
}

func translationKey(text, sourceLang, targetLang string) string {
	sum := sha256.Sum256([]byte(sourceLang + "\x00" + targetLang + "\x00" + text))
	return "translate:cache:" + hex.EncodeToString(sum[:])
}

// RedisCache is a TranslationCache backed by Redis with a TTL. Cache failures
// degrade to a miss; they never fail a translation.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed translation cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (r *RedisCache) Set(ctx context.Context, key, value string) {
	r.client.Set(ctx, key, value, r.ttl)
}

// MemoryCache is an in-process TranslationCache for tests and single-node
// deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.entries[key]
	return val, ok
}

func (m *MemoryCache) Set(_ context.Context, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}
