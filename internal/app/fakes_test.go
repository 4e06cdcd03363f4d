package app

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"moonbase/api/internal/config"
	"moonbase/api/internal/email"
	"moonbase/api/internal/forum"
	"moonbase/api/internal/manifest"
	"moonbase/api/internal/store"
)

type forumWrite struct {
	topicID int64
	postID  int64
	title   string
	body    string
}

type fakeForum struct {
	mu sync.Mutex

	createTopicFn       func(context.Context, string, string) (int64, int64, error)
	createPostFn        func(context.Context, int64, string) (int64, error)
	editPostFn          func(context.Context, int64, string) error
	getUserInfoFn       func(context.Context, int64) (forum.AdminUser, error)
	getUserInfoByNameFn func(context.Context, string) (forum.UserProfile, bool, error)
	getReactionUsersFn  func(context.Context, int64) ([]forum.ReactionUsers, error)

	nextPostID int64
	topics     []forumWrite
	posts      []forumWrite
	edits      []forumWrite
	reads      int
}

func newFakeForum() *fakeForum {
	return &fakeForum{nextPostID: 1000}
}

func (f *fakeForum) BaseURL() string { return "https://talk.example" }

func (f *fakeForum) CreateTopic(ctx context.Context, title, body string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createTopicFn != nil {
		topicID, postID, err := f.createTopicFn(ctx, title, body)
		if err != nil {
			return 0, 0, err
		}
		f.topics = append(f.topics, forumWrite{topicID: topicID, postID: postID, title: title, body: body})
		return topicID, postID, nil
	}
	f.nextPostID++
	write := forumWrite{topicID: 100 + int64(len(f.topics)), postID: f.nextPostID, title: title, body: body}
	f.topics = append(f.topics, write)
	return write.topicID, write.postID, nil
}

func (f *fakeForum) CreatePost(ctx context.Context, topicID int64, body string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createPostFn != nil {
		postID, err := f.createPostFn(ctx, topicID, body)
		if err != nil {
			return 0, err
		}
		f.posts = append(f.posts, forumWrite{topicID: topicID, postID: postID, body: body})
		return postID, nil
	}
	f.nextPostID++
	f.posts = append(f.posts, forumWrite{topicID: topicID, postID: f.nextPostID, body: body})
	return f.nextPostID, nil
}

func (f *fakeForum) EditPost(ctx context.Context, postID int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editPostFn != nil {
		if err := f.editPostFn(ctx, postID, body); err != nil {
			return err
		}
	}
	f.edits = append(f.edits, forumWrite{postID: postID, body: body})
	return nil
}

func (f *fakeForum) GetUserInfo(ctx context.Context, userID int64) (forum.AdminUser, error) {
	f.mu.Lock()
	f.reads++
	fn := f.getUserInfoFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, userID)
	}
	return forum.AdminUser{ID: userID}, nil
}

func (f *fakeForum) GetUserInfoByName(ctx context.Context, username string) (forum.UserProfile, bool, error) {
	f.mu.Lock()
	fn := f.getUserInfoByNameFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, username)
	}
	return forum.UserProfile{Username: username}, true, nil
}

func (f *fakeForum) GetReactionUsers(ctx context.Context, postID int64) ([]forum.ReactionUsers, error) {
	f.mu.Lock()
	f.reads++
	fn := f.getReactionUsersFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, postID)
	}
	return nil, nil
}

func (f *fakeForum) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics) + len(f.posts) + len(f.edits)
}

type fakeEvents struct {
	mu       sync.Mutex
	events   []store.ReviewEvent
	insertFn func(context.Context, store.ReviewEvent) error
	pingFn   func(context.Context) error
}

func (f *fakeEvents) InsertEvent(ctx context.Context, event store.ReviewEvent) error {
	if f.insertFn != nil {
		if err := f.insertFn(ctx, event); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) ListEvents(_ context.Context, project string, _ int) ([]store.ReviewEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ReviewEvent
	for _, event := range f.events {
		if project == "" || event.Project == project {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeEvents) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeEvents) actions() []store.EventAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]store.EventAction, 0, len(f.events))
	for _, event := range f.events {
		actions = append(actions, event.Action)
	}
	return actions
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []email.ReviewNotice
}

func (f *fakeNotifier) NotifyReview(notice email.ReviewNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice)
	return nil
}

type fakeMirror struct {
	mu       sync.Mutex
	mirrored []string
}

func (f *fakeMirror) MirrorVersion(_ context.Context, name, version, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirrored = append(f.mirrored, name+"/"+version)
	return []string{name + "/" + version + "/project.zip"}, nil
}

type testEnv struct {
	service   *Service
	forum     *fakeForum
	events    *fakeEvents
	notifier  *fakeNotifier
	mirror    *fakeMirror
	manifests *manifest.Store
	repoDir   string
}

var testNow = time.Unix(1700000000, 0)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repoDir := t.TempDir()
	cfg := config.Config{
		RepoDir:       repoDir,
		PublicHost:    "moonbase.example",
		WebhookSecret: "k",
		Policy:        config.DefaultPolicy(),
	}
	env := &testEnv{
		forum:     newFakeForum(),
		events:    &fakeEvents{},
		notifier:  &fakeNotifier{},
		mirror:    &fakeMirror{},
		manifests: manifest.NewStore(repoDir, nil),
		repoDir:   repoDir,
	}
	env.service = New(cfg, Dependencies{
		Forum:     env.forum,
		Manifests: env.manifests,
		Events:    env.events,
		Mirror:    env.mirror,
		Notifier:  env.notifier,
	})
	env.service.now = func() time.Time { return testNow }
	env.service.landingPad = func() int { return 7 }
	return env
}

func buildArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, body := range entries {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := entry.Write([]byte(body)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// stage uploads a small project archive and returns its handle.
func (env *testEnv) stage(t *testing.T) string {
	t.Helper()
	archive := buildArchive(t, map[string]string{
		"Asteroids.codea/Main.lua": "function setup() end",
		"Asteroids.codea/Icon.png": "png-bytes",
	})
	handle, err := env.service.StageUpload(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("StageUpload() error = %v", err)
	}
	return handle
}

func (env *testEnv) metadata(t *testing.T, version string) Metadata {
	t.Helper()
	return Metadata{
		Name:             "Asteroids",
		Version:          version,
		DescriptionShort: "Shoot rocks",
		DescriptionLong:  "Shoot rocks in space.",
		Authors:          []string{"simeon"},
		Icon:             "Asteroids.codea/Icon.png",
		Category:         "Game",
		Platform:         "iPad",
		ZipName:          env.stage(t),
		MetadataURL:      "https://example.com/metadata.json",
		UpdateNotes:      "First flight",
	}
}

func (env *testEnv) submit(t *testing.T, version string) SubmitResult {
	t.Helper()
	result, err := env.service.Submit(context.Background(), env.metadata(t, version), false)
	if err != nil {
		t.Fatalf("Submit(%s) error = %v", version, err)
	}
	return result
}

func (env *testEnv) read(t *testing.T, name manifest.Name) manifest.Document {
	t.Helper()
	doc, err := env.manifests.Read(name)
	if err != nil {
		t.Fatalf("read %s manifest: %v", name, err)
	}
	return doc
}
