package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ObiAU/disasterfeed/internal/cache"
	"github.com/ObiAU/disasterfeed/internal/models"
)

const (
	TagLocation    = "location"
	TagImageVerify = "image_verify"

	UnknownLocation = "Unknown"
)

// FallbackVerification is cached when the model's answer is not valid JSON.
var FallbackVerification = models.ImageVerification{
	IsAuthentic: true,
	Confidence:  50,
	Analysis:    "Unable to analyze image automatically",
}

type Analyzer struct {
	gen      TextGenerator
	cache    *cache.ResponseCache
	ttlHours int
	logger   logrus.FieldLogger
}

func NewAnalyzer(gen TextGenerator, responseCache *cache.ResponseCache, ttlHours int, logger logrus.FieldLogger) *Analyzer {
	if ttlHours <= 0 {
		ttlHours = responseCache.DefaultTTLHours()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Analyzer{
		gen:      gen,
		cache:    responseCache,
		ttlHours: ttlHours,
		logger:   logger.WithField("component", "analyzer"),
	}
}

func LocationPrompt(text string) string {
	return fmt.Sprintf("Extract location from: %s. Return only the location name, nothing else. If no specific location is mentioned, return \"Unknown\".", text)
}

func ImageVerificationPrompt(imageURL string) string {
	return fmt.Sprintf("Analyze image at %s for signs of manipulation or disaster context. Provide a JSON response with: {\"isAuthentic\": boolean, \"confidence\": 0-100, \"analysis\": \"brief description\"}", imageURL)
}

// ExtractLocation returns the place named in text, or "Unknown" when the
// model finds none. The trimmed answer is cached under the "location" tag.
func (a *Analyzer) ExtractLocation(ctx context.Context, text string) (string, error) {
	return a.cache.CachedCall(ctx, TagLocation, text, a.ttlHours, func(ctx context.Context, input string) (string, error) {
		answer, err := a.gen.Generate(ctx, LocationPrompt(input))
		if err != nil {
			return "", err
		}
		location := strings.TrimSpace(answer)
		if location == "" {
			return "", ErrNoResult
		}
		return location, nil
	})
}

// VerifyImage scores how likely the referenced image is authentic.
func (a *Analyzer) VerifyImage(ctx context.Context, imageURL string) (models.ImageVerification, error) {
	return cache.CachedJSON(ctx, a.cache, TagImageVerify, imageURL, a.ttlHours, func(ctx context.Context, input string) (models.ImageVerification, error) {
		answer, err := a.gen.Generate(ctx, ImageVerificationPrompt(input))
		if err != nil {
			return models.ImageVerification{}, err
		}
		answer = stripCodeFence(answer)
		if answer == "" {
			return models.ImageVerification{}, ErrNoResult
		}

		var verification models.ImageVerification
		if err := json.Unmarshal([]byte(answer), &verification); err != nil {
			a.logger.WithError(err).WithField("provider", a.gen.Name()).Warn("unparseable image verification answer, using fallback")
			return FallbackVerification, nil
		}
		return verification, nil
	})
}

// stripCodeFence removes a surrounding markdown code block such as ```json ... ```.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
