package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/dao/criteria"
	daorequest "github.com/viant/hitl/service/dao/request"
)

// Service implements a filesystem-backed request store on top of viant/afs.
// One JSON document per request. The mutex serialises UpdateIf so the
// read-compare-write sequence behaves as a compare-and-swap; this makes the
// store suitable for a single engine process only, which is the deployment
// shape the file backend targets (local development, embedded agents).
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ daorequest.DAO = (*Service)(nil)

// Save persists a request to the filesystem.
func (s *Service) Save(ctx context.Context, aRequest *mrequest.Request) error {
	if aRequest == nil {
		return dao.ErrNilEntity
	}
	if aRequest.RequestID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload(ctx, aRequest)
}

// Load retrieves a request from the filesystem.
func (s *Service) Load(ctx context.Context, id string) (*mrequest.Request, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.download(ctx, id)
}

// Delete removes a request document.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	filePath := s.requestPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if request exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete request file %s: %w", filePath, err)
	}
	return nil
}

// List returns all requests matching the supplied parameters.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*mrequest.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(ctx, func(aRequest *mrequest.Request) bool {
		return criteria.Matches(attributes(aRequest), parameters)
	})
}

// UpdateIf overwrites the stored document iff its state still equals expected.
func (s *Service) UpdateIf(ctx context.Context, aRequest *mrequest.Request, expected mrequest.State) error {
	if aRequest == nil {
		return dao.ErrNilEntity
	}
	if aRequest.RequestID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.download(ctx, aRequest.RequestID)
	if err != nil {
		return err
	}
	if stored.State != expected {
		return dao.ErrStateMismatch
	}
	return s.upload(ctx, aRequest)
}

// ListExpired returns requests awaiting a response whose deadline passed.
func (s *Service) ListExpired(ctx context.Context, now time.Time) ([]*mrequest.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(ctx, func(aRequest *mrequest.Request) bool {
		if aRequest.State != mrequest.StatePendingResponse && aRequest.State != mrequest.StateEscalated {
			return false
		}
		return !aRequest.TimeoutAt.After(now)
	})
}

// LoadByIdempotencyKey scans for a request previously stored with the key.
func (s *Service) LoadByIdempotencyKey(ctx context.Context, key string) (*mrequest.Request, error) {
	if key == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched, err := s.list(ctx, func(aRequest *mrequest.Request) bool {
		return aRequest.IdempotencyKey == key
	})
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, dao.ErrNotFound
	}
	return matched[0], nil
}

func (s *Service) upload(ctx context.Context, aRequest *mrequest.Request) error {
	data, err := json.Marshal(aRequest)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	filePath := s.requestPath(aRequest.RequestID)
	if err := s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save request to file %s: %w", filePath, err)
	}
	return nil
}

func (s *Service) download(ctx context.Context, id string) (*mrequest.Request, error) {
	filePath := s.requestPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if request exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file %s: %w", filePath, err)
	}
	aRequest := &mrequest.Request{}
	if err := json.Unmarshal(data, aRequest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request data: %w", err)
	}
	return aRequest, nil
}

func (s *Service) list(ctx context.Context, match func(*mrequest.Request) bool) ([]*mrequest.Request, error) {
	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list request files: %w", err)
	}
	var requests []*mrequest.Request
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		aRequest := &mrequest.Request{}
		if err := json.Unmarshal(data, aRequest); err != nil {
			continue
		}
		if !match(aRequest) {
			continue
		}
		requests = append(requests, aRequest)
	}
	return requests, nil
}

func (s *Service) requestPath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", id))
}

func attributes(aRequest *mrequest.Request) map[string]string {
	return map[string]string{
		"State":       string(aRequest.State),
		"AgentID":     aRequest.AgentID,
		"Intent":      string(aRequest.Intent),
		"Urgency":     string(aRequest.Urgency),
		"ResponderID": aRequest.ResponderID,
	}
}

// New creates a filesystem request store rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fs := afs.New()
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	basePath = url.Normalize(basePath, file.Scheme)
	return &Service{basePath: basePath, fs: fs}, nil
}
