package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"moonbase/api/internal/archive"
	"moonbase/api/internal/config"
	"moonbase/api/internal/email"
	"moonbase/api/internal/forum"
	"moonbase/api/internal/gitrepo"
	"moonbase/api/internal/manifest"
	"moonbase/api/internal/search"
	"moonbase/api/internal/store"
	"moonbase/api/internal/util"
)

type forumClient interface {
	BaseURL() string
	CreateTopic(ctx context.Context, title, body string) (int64, int64, error)
	CreatePost(ctx context.Context, topicID int64, body string) (int64, error)
	EditPost(ctx context.Context, postID int64, body string) error
	GetUserInfo(ctx context.Context, userID int64) (forum.AdminUser, error)
	GetUserInfoByName(ctx context.Context, username string) (forum.UserProfile, bool, error)
	GetReactionUsers(ctx context.Context, postID int64) ([]forum.ReactionUsers, error)
}

type manifestStore interface {
	Read(manifest.Name) (manifest.Document, error)
	Write(manifest.Name, manifest.Document, string) error
}

type eventLog interface {
	InsertEvent(context.Context, store.ReviewEvent) error
	ListEvents(context.Context, string, int) ([]store.ReviewEvent, error)
	Ping(context.Context) error
}

type catalogIndex interface {
	IndexApproved(name, version string)
	Search(search.Query) search.Response
}

type artifactMirror interface {
	MirrorVersion(ctx context.Context, name, version, dir string) ([]string, error)
}

type notifier interface {
	NotifyReview(email.ReviewNotice) error
}

type deliveryStore interface {
	FirstSeen(ctx context.Context, deliveryID, event string) (bool, error)
	Ping(context.Context) error
}

type historyLog interface {
	History(limit int) ([]gitrepo.CommitInfo, error)
}

// Dependencies are the collaborators of a Service. Forum and Manifests are
// required; the rest may be left nil to disable the feature.
type Dependencies struct {
	Forum      forumClient
	Manifests  manifestStore
	Events     eventLog
	Search     catalogIndex
	Mirror     artifactMirror
	Notifier   notifier
	Deliveries deliveryStore
	History    historyLog
}

// Service runs the submission review lifecycle. One mutex serialises every
// read-modify-write of the manifests within the process.
type Service struct {
	cfg        config.Config
	forum      forumClient
	manifests  manifestStore
	events     eventLog
	search     catalogIndex
	mirror     artifactMirror
	notifier   notifier
	deliveries deliveryStore
	history    historyLog
	now        func() time.Time
	landingPad func() int
	mu         sync.Mutex
}

func New(cfg config.Config, deps Dependencies) *Service {
	return &Service{
		cfg:        cfg,
		forum:      deps.Forum,
		manifests:  deps.Manifests,
		events:     deps.Events,
		search:     deps.Search,
		mirror:     deps.Mirror,
		notifier:   deps.Notifier,
		deliveries: deps.Deliveries,
		history:    deps.History,
		now:        time.Now,
		landingPad: func() int { return rand.Intn(10) + 1 },
	}
}

type SubmitResult struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	TopicID  int64  `json:"topicId"`
	PostID   int64  `json:"postId"`
	Revision int    `json:"revision"`
	Revised  bool   `json:"revised"`
	Checksum string `json:"checksum"`
}

// Submit files a validated submission for review: it opens or revises the
// review post, records the version in the review manifest and moves the
// staged upload into <repo>/<name>/<version>. privileged submissions may use
// reserved project names.
func (s *Service) Submit(ctx context.Context, metadata Metadata, privileged bool) (SubmitResult, error) {
	if isServiceName(metadata.Name) || (!privileged && s.cfg.Policy.IsReserved(metadata.Name)) {
		return SubmitResult{}, domainError(http.StatusBadRequest, "RESERVED_NAME", "Reserved project name!", nil)
	}
	if !isIconFile(iconBase(metadata.Icon)) {
		return SubmitResult{}, &ValidationError{Field: "icon", Reason: "icon must be a png, jpeg or gif image."}
	}
	if !util.IsID(metadata.ZipName) {
		return SubmitResult{}, &ValidationError{Field: "zip_name", Reason: "zip_name is not a valid upload handle."}
	}
	uploadPath := s.uploadPath(metadata.ZipName)
	if _, err := os.Stat(uploadPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SubmitResult{}, domainError(http.StatusBadRequest, "UPLOAD_NOT_FOUND", "Uploaded archive not found.", nil)
		}
		return SubmitResult{}, fmt.Errorf("stat upload: %w", err)
	}

	s.mu.Lock()
	result, err := s.submitLocked(ctx, metadata, uploadPath)
	s.mu.Unlock()

	var duplicate *DuplicateVersionError
	if errors.As(err, &duplicate) {
		s.recordEvent(ctx, store.ReviewEvent{
			Project: metadata.Name,
			Version: metadata.Version,
			Action:  store.ActionDuplicate,
			Actor:   strings.Join(metadata.Authors, ","),
		})
		return SubmitResult{}, err
	}
	if err != nil {
		return SubmitResult{}, err
	}

	action := store.ActionSubmitted
	notice := email.EventSubmitted
	if result.Revised {
		action = store.ActionRevised
		notice = email.EventRevised
	}
	detail, _ := json.Marshal(map[string]any{"authors": metadata.Authors, "checksum": result.Checksum})
	s.recordEvent(ctx, store.ReviewEvent{
		Project:  result.Name,
		Version:  result.Version,
		Action:   action,
		Actor:    strings.Join(metadata.Authors, ","),
		TopicID:  result.TopicID,
		PostID:   result.PostID,
		Revision: manifest.IntPtr(result.Revision),
		Detail:   detail,
	})
	s.notify(email.ReviewNotice{
		Event:     notice,
		Project:   result.Name,
		Version:   result.Version,
		Authors:   metadata.Authors,
		Revision:  result.Revision,
		ForumLink: s.forumLink(result.TopicID),
	})
	return result, nil
}

func (s *Service) submitLocked(ctx context.Context, metadata Metadata, uploadPath string) (SubmitResult, error) {
	name, version := metadata.Name, metadata.Version

	public, err := s.manifests.Read(manifest.Public)
	if err != nil {
		return SubmitResult{}, err
	}
	if public.HasVersion(name, version) {
		if err := os.Remove(uploadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("submit: discard upload %s: %v", metadata.ZipName, err)
		}
		return SubmitResult{}, &DuplicateVersionError{Name: name, Version: version}
	}
	review, err := s.manifests.Read(manifest.Review)
	if err != nil {
		return SubmitResult{}, err
	}

	topicID := public.TopicID(name)
	if topicID == 0 {
		topicID = review.TopicID(name)
	}

	body, err := s.renderLandingRequest(ctx, metadata)
	if err != nil {
		return SubmitResult{}, err
	}

	result := SubmitResult{Name: name, Version: version}
	if record := review.FindVersion(name, version); record != nil {
		revision := 1
		if record.Revision != nil {
			revision = *record.Revision
		}
		revision++
		record.Revision = manifest.IntPtr(revision)
		body += revisionMarker(revision)

		if record.PostID == 0 {
			// The first post never made it to the forum; open it now.
			topicID, record.PostID = s.publishLandingRequest(ctx, name, topicID, body)
			review.AddVersion(name, topicID, *record)
			if err := s.manifests.Write(manifest.Review, review, fmt.Sprintf("revise %s %s (revision %d)", name, version, revision)); err != nil {
				return SubmitResult{}, err
			}
		} else {
			if err := s.manifests.Write(manifest.Review, review, fmt.Sprintf("revise %s %s (revision %d)", name, version, revision)); err != nil {
				return SubmitResult{}, err
			}
			if err := s.forum.EditPost(ctx, record.PostID, body); err != nil {
				log.Printf("forum: edit review post %d for %s %s: %v", record.PostID, name, version, err)
			}
		}
		result.PostID = record.PostID
		result.Revision = revision
		result.Revised = true
	} else {
		var postID int64
		topicID, postID = s.publishLandingRequest(ctx, name, topicID, body)
		review.AddVersion(name, topicID, manifest.VersionRecord{ID: version, PostID: postID, Revision: manifest.IntPtr(1)})
		if err := s.manifests.Write(manifest.Review, review, fmt.Sprintf("submit %s %s", name, version)); err != nil {
			return SubmitResult{}, err
		}
		result.PostID = postID
		result.Revision = 1
	}
	result.TopicID = review.TopicID(name)

	checksum, err := s.relocateUpload(metadata, uploadPath, result.TopicID)
	if err != nil {
		return SubmitResult{}, err
	}
	result.Checksum = checksum
	return result, nil
}

// publishLandingRequest opens a topic when the project has none yet, or
// replies in the existing one. Forum failures are logged and yield zero ids.
func (s *Service) publishLandingRequest(ctx context.Context, name string, topicID int64, body string) (int64, int64) {
	if topicID == 0 {
		newTopicID, postID, err := s.forum.CreateTopic(ctx, topicTitle(name), body)
		if err != nil {
			log.Printf("forum: create topic for %s: %v", name, err)
			return 0, 0
		}
		return newTopicID, postID
	}
	postID, err := s.forum.CreatePost(ctx, topicID, body)
	if err != nil {
		log.Printf("forum: create review post in topic %d for %s: %v", topicID, name, err)
		return topicID, 0
	}
	return topicID, postID
}

// relocateUpload moves the staged archive into the version directory and
// writes its metadata and icon next to it. Errors here abort the request.
// It returns the archive checksum.
func (s *Service) relocateUpload(metadata Metadata, uploadPath string, topicID int64) (string, error) {
	versionDir := s.versionDir(metadata.Name, metadata.Version)
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return "", fmt.Errorf("create version dir: %w", err)
	}
	archivePath := filepath.Join(versionDir, "project.zip")
	if err := copyFile(uploadPath, archivePath); err != nil {
		return "", err
	}
	checksum, err := archive.Checksum(archivePath)
	if err != nil {
		return "", err
	}

	metadata.ZipName = ""
	metadata.MetadataURL = ""
	metadata.ForumLink = s.forumLink(topicID)
	metadata.Checksum = checksum
	if err := writeMetadata(versionDir, metadata); err != nil {
		return "", err
	}

	if _, err := archive.ExtractEntry(archivePath, metadata.Icon, versionDir); err != nil {
		if !errors.Is(err, archive.ErrEntryNotFound) {
			return "", err
		}
		log.Printf("submit: %s %s has no icon entry %q", metadata.Name, metadata.Version, metadata.Icon)
	}

	if err := os.Remove(uploadPath); err != nil {
		return "", fmt.Errorf("remove upload: %w", err)
	}
	return checksum, nil
}

type ApproveResult struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	TopicID            int64  `json:"topicId"`
	AlreadyPublic      bool   `json:"alreadyPublic"`
	ConfirmationPostID int64  `json:"confirmationPostId,omitempty"`
}

// Approve publishes a reviewed version. Approving a version that is already
// public and no longer under review is a no-op.
func (s *Service) Approve(ctx context.Context, name, version, actor string) (ApproveResult, error) {
	s.mu.Lock()
	result, metadata, err := s.approveLocked(name, version)
	s.mu.Unlock()
	if err != nil || result.AlreadyPublic {
		return result, err
	}

	if result.TopicID != 0 {
		postID, err := s.forum.CreatePost(ctx, result.TopicID, confirmationMessage(version))
		if err != nil {
			log.Printf("forum: confirm approval of %s %s: %v", name, version, err)
		}
		result.ConfirmationPostID = postID
	}
	if s.search != nil {
		s.search.IndexApproved(name, version)
	}
	if s.mirror != nil {
		if _, err := s.mirror.MirrorVersion(ctx, name, version, s.versionDir(name, version)); err != nil {
			log.Printf("objectstore: mirror %s %s: %v", name, version, err)
		}
	}
	s.recordEvent(ctx, store.ReviewEvent{
		Project: name,
		Version: version,
		Action:  store.ActionApproved,
		Actor:   actor,
		TopicID: result.TopicID,
		PostID:  result.ConfirmationPostID,
	})
	s.notify(email.ReviewNotice{
		Event:     email.EventApproved,
		Project:   name,
		Version:   version,
		Authors:   metadata.Authors,
		ForumLink: s.forumLink(result.TopicID),
	})
	return result, nil
}

func (s *Service) approveLocked(name, version string) (ApproveResult, Metadata, error) {
	result := ApproveResult{Name: name, Version: version}

	review, err := s.manifests.Read(manifest.Review)
	if err != nil {
		return result, Metadata{}, err
	}
	public, err := s.manifests.Read(manifest.Public)
	if err != nil {
		return result, Metadata{}, err
	}
	if !review.HasVersion(name, version) {
		if public.HasVersion(name, version) {
			result.AlreadyPublic = true
			result.TopicID = public.TopicID(name)
			return result, Metadata{}, nil
		}
		return result, Metadata{}, notFound(fmt.Sprintf("%s %s is not under review.", name, version))
	}
	result.TopicID = review.TopicID(name)

	versionDir := s.versionDir(name, version)
	metadata, err := readMetadata(versionDir)
	if err != nil {
		return result, Metadata{}, err
	}
	metadata.Timestamp = s.now().Unix()
	if err := writeMetadata(versionDir, metadata); err != nil {
		return result, Metadata{}, err
	}
	if err := s.linkProjectIcon(name, version, iconBase(metadata.Icon)); err != nil {
		return result, Metadata{}, err
	}

	record, _ := review.RemoveVersion(name, version)
	record.Revision = nil
	public.AddVersion(name, result.TopicID, record)
	if err := s.manifests.Write(manifest.Public, public, fmt.Sprintf("approve %s %s", name, version)); err != nil {
		return result, Metadata{}, err
	}
	if err := s.manifests.Write(manifest.Review, review, fmt.Sprintf("approve %s %s", name, version)); err != nil {
		return result, Metadata{}, err
	}
	return result, metadata, nil
}

// linkProjectIcon points <repo>/<name>/<icon> at the approved version's icon
// with a relative symlink.
func (s *Service) linkProjectIcon(name, version, icon string) error {
	if icon == "" || icon == "." || icon == "/" {
		return nil
	}
	link := filepath.Join(s.cfg.RepoDir, name, icon)
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove icon link: %w", err)
	}
	if err := os.Symlink(filepath.Join(version, icon), link); err != nil {
		return fmt.Errorf("link project icon: %w", err)
	}
	return nil
}

type RejectInput struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ZipName string `json:"zip_name"`
}

type RejectResult struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	RemovedRecord bool   `json:"removedRecord"`
	RemovedFiles  bool   `json:"removedFiles"`
	RemovedUpload bool   `json:"removedUpload"`
}

// Reject drops a version from review and discards its files. The public
// manifest and any public version directory are left alone; nothing is
// posted to the forum.
func (s *Service) Reject(ctx context.Context, input RejectInput, actor string) (RejectResult, error) {
	if !isSafePathSegment(input.Name) || !isSafePathSegment(input.Version) || isServiceName(input.Name) {
		return RejectResult{}, &ValidationError{Field: "name", Reason: "name and version are required."}
	}
	if input.ZipName != "" && !util.IsID(input.ZipName) {
		return RejectResult{}, &ValidationError{Field: "zip_name", Reason: "zip_name is not a valid upload handle."}
	}

	s.mu.Lock()
	result, topicID, err := s.rejectLocked(input)
	s.mu.Unlock()
	if err != nil {
		return result, err
	}

	s.recordEvent(ctx, store.ReviewEvent{
		Project: input.Name,
		Version: input.Version,
		Action:  store.ActionRejected,
		Actor:   actor,
		TopicID: topicID,
	})
	s.notify(email.ReviewNotice{
		Event:     email.EventRejected,
		Project:   input.Name,
		Version:   input.Version,
		ForumLink: s.forumLink(topicID),
	})
	return result, nil
}

func (s *Service) rejectLocked(input RejectInput) (RejectResult, int64, error) {
	result := RejectResult{Name: input.Name, Version: input.Version}

	review, err := s.manifests.Read(manifest.Review)
	if err != nil {
		return result, 0, err
	}
	public, err := s.manifests.Read(manifest.Public)
	if err != nil {
		return result, 0, err
	}
	topicID := review.TopicID(input.Name)

	if _, found := review.RemoveVersion(input.Name, input.Version); found {
		if err := s.manifests.Write(manifest.Review, review, fmt.Sprintf("reject %s %s", input.Name, input.Version)); err != nil {
			return result, 0, err
		}
		result.RemovedRecord = true
	}

	if !public.HasVersion(input.Name, input.Version) {
		versionDir := s.versionDir(input.Name, input.Version)
		if _, err := os.Stat(versionDir); err == nil {
			if err := os.RemoveAll(versionDir); err != nil {
				return result, 0, fmt.Errorf("remove version dir: %w", err)
			}
			result.RemovedFiles = true
			// Only succeeds when nothing else of the project is left.
			_ = os.Remove(filepath.Join(s.cfg.RepoDir, input.Name))
		}
	}

	if input.ZipName != "" {
		err := os.Remove(s.uploadPath(input.ZipName))
		switch {
		case err == nil:
			result.RemovedUpload = true
		case !errors.Is(err, os.ErrNotExist):
			return result, 0, fmt.Errorf("remove upload: %w", err)
		}
	}

	if !result.RemovedRecord && !result.RemovedFiles && !result.RemovedUpload {
		return result, 0, notFound(fmt.Sprintf("%s %s is not under review.", input.Name, input.Version))
	}
	return result, topicID, nil
}

// StageUpload stores an uploaded archive under a fresh handle in
// <repo>/uploads and returns the handle.
func (s *Service) StageUpload(src io.Reader) (string, error) {
	dir := filepath.Join(s.cfg.RepoDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	handle := util.NewID("")
	dst, err := os.OpenFile(filepath.Join(dir, handle), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("close upload: %w", err)
	}
	return handle, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Events(ctx context.Context, project string, limit int) ([]store.ReviewEvent, error) {
	if s.events == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EVENTS_UNAVAILABLE", "Audit log not configured", nil)
	}
	return s.events.ListEvents(ctx, project, limit)
}

func (s *Service) ManifestHistory(limit int) ([]gitrepo.CommitInfo, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Manifest history not configured", nil)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.history.History(limit)
}

// Ping reports the readiness of each configured backend.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{}
	if s.events != nil {
		checks["database"] = s.events.Ping(ctx)
	}
	if s.deliveries != nil {
		checks["deliveries"] = s.deliveries.Ping(ctx)
	}
	return checks
}

func (s *Service) AdminKeyHash() string {
	return s.cfg.AdminKeyHash
}

func (s *Service) recordEvent(ctx context.Context, event store.ReviewEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.InsertEvent(ctx, event); err != nil {
		log.Printf("store: record %s event for %s %s: %v", event.Action, event.Project, event.Version, err)
	}
}

func (s *Service) notify(notice email.ReviewNotice) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyReview(notice); err != nil {
		log.Printf("email: notify %s for %s %s: %v", notice.Event, notice.Project, notice.Version, err)
	}
}

func (s *Service) forumLink(topicID int64) string {
	return fmt.Sprintf("%s/t/%d", strings.TrimRight(s.forum.BaseURL(), "/"), topicID)
}

func (s *Service) versionDir(name, version string) string {
	return filepath.Join(s.cfg.RepoDir, name, version)
}

func (s *Service) uploadPath(handle string) string {
	return filepath.Join(s.cfg.RepoDir, "uploads", handle)
}

func readMetadata(versionDir string) (Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(versionDir, "metadata.json"))
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

func writeMetadata(versionDir string, metadata Metadata) error {
	raw, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(versionDir, "metadata.json"), raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
