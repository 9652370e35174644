// internal/media/service.go
package media

import (
	"context"

	"laststand/internal/keypool"
)

// Service combines the provider client, the smart allocator and the file
// store into the two operations the game engine actually needs.
type Service struct {
	Client *Client
	Files  *FileStore
}

// NewService wires a provider client to a file store.
func NewService(client *Client, files *FileStore) *Service {
	return &Service{Client: client, Files: files}
}

// QuotaFor exposes the raw quota query for usage aggregation and key validation.
func (s *Service) QuotaFor(ctx context.Context, key string) (int64, error) {
	return s.Client.RemainingQuota(ctx, key)
}

// ImageFromPrompt generates an illustration across the secondary pool and
// persists it, returning the public URL.
func (s *Service) ImageFromPrompt(ctx context.Context, keys []string, prompt string) (string, error) {
	data, err := keypool.ExecuteWithSmartAllocation(ctx, keys, keypool.TaskImage, s.Client.RemainingQuota,
		func(ctx context.Context, key string) ([]byte, error) {
			return s.Client.GenerateImage(ctx, key, prompt)
		})
	if err != nil {
		return "", err
	}
	return s.Files.Save(data, "png")
}

// VoiceFromText synthesizes narration across the secondary pool and persists
// it, returning the public URL.
func (s *Service) VoiceFromText(ctx context.Context, keys []string, text string) (string, error) {
	data, err := keypool.ExecuteWithSmartAllocation(ctx, keys, keypool.TaskVoice, s.Client.RemainingQuota,
		func(ctx context.Context, key string) ([]byte, error) {
			return s.Client.GenerateVoice(ctx, key, text)
		})
	if err != nil {
		return "", err
	}
	return s.Files.Save(data, "mp3")
}
