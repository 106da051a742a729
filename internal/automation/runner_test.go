package automation

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lvvv7/Intelligent-certificate/internal/archive"
	"github.com/Lvvv7/Intelligent-certificate/internal/captcha"
	"github.com/Lvvv7/Intelligent-certificate/internal/catalog"
	"github.com/Lvvv7/Intelligent-certificate/internal/config"
	"github.com/Lvvv7/Intelligent-certificate/internal/printer"
	"github.com/Lvvv7/Intelligent-certificate/internal/status"
)

// fakeBrowser scripts the portal's observable behavior for a run.
type fakeBrowser struct {
	challengeSrc string
	width        float64
	loginWorks   bool
	errTip       string
	tipReadable  bool
	statusLabel  string

	// gate, when set, blocks navigation until the test closes it.
	gate chan struct{}

	clicks   []string
	dragged  int
	released int
	closed   bool
}

func (b *fakeBrowser) Navigate(context.Context, string) error {
	if b.gate != nil {
		<-b.gate
	}
	return nil
}
func (b *fakeBrowser) CurrentURL(context.Context) (string, error) {
	return "https://portal.example/login", nil
}
func (b *fakeBrowser) WaitURLChange(context.Context, string, time.Duration) error {
	if b.loginWorks {
		return nil
	}
	return errors.New("url unchanged")
}
func (b *fakeBrowser) Click(_ context.Context, sel string) error {
	b.clicks = append(b.clicks, sel)
	return nil
}
func (b *fakeBrowser) Clear(context.Context, string) error            { return nil }
func (b *fakeBrowser) SendKeys(context.Context, string, string) error { return nil }
func (b *fakeBrowser) Text(_ context.Context, sel string) (string, error) {
	switch sel {
	case selErrorTip:
		if !b.tipReadable {
			return "", errors.New("no such element")
		}
		return b.errTip, nil
	case selStatusLabel:
		return b.statusLabel, nil
	}
	return "", errors.New("unexpected selector " + sel)
}
func (b *fakeBrowser) Attribute(_ context.Context, sel, name string) (string, error) {
	if sel == selCaptchaImage && name == "src" {
		return b.challengeSrc, nil
	}
	return "", errors.New("unexpected attribute query")
}
func (b *fakeBrowser) Width(context.Context, string) (float64, error) { return b.width, nil }
func (b *fakeBrowser) Press(context.Context, string) error            { return nil }
func (b *fakeBrowser) MoveBy(_ context.Context, dx, _ float64) error {
	b.dragged += int(dx)
	return nil
}
func (b *fakeBrowser) Release(context.Context) error {
	b.released++
	return nil
}
func (b *fakeBrowser) Close() error {
	b.closed = true
	return nil
}

type stubRecognizer struct {
	box   captcha.Box
	found bool
}

func (r *stubRecognizer) Identify(context.Context, string) (captcha.Box, bool, error) {
	return r.box, r.found, nil
}

type readySpooler struct{}

func (readySpooler) Status(context.Context, string) (uint32, error) { return 0, nil }

func challengeURI(t *testing.T, width int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, 40))))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

type runnerFixture struct {
	runner  *Runner
	store   *status.Store
	browser *fakeBrowser
}

func newFixture(t *testing.T, br *fakeBrowser, rec captcha.Recognizer) *runnerFixture {
	t.Helper()

	cfg := config.Config{
		ImageDir:         t.TempDir(),
		DownloadDir:      t.TempDir(),
		ExtractPath:      t.TempDir(),
		MaxRetry:         3,
		PrinterName:      "TestPrinter",
		PrintPollTimeout: time.Second,
		ArchiveEncoding:  "gbk",
	}

	cat, err := catalog.Load("")
	require.NoError(t, err)

	store := status.New(30 * time.Minute)
	store.SetSelection(status.UserCorporate, "5")

	solver := captcha.New(rec, cfg.ImageDir, cfg.MaxRetry, nil)
	solver.RefreshWait = 0
	dispatcher := printer.New(readySpooler{}, "unused-helper", cfg.PrintPollTimeout, nil)
	normalizer := archive.New(cfg.ArchiveEncoding, nil)

	factory := func(context.Context) (Browser, error) { return br, nil }
	r := New(cfg, store, cat, solver, dispatcher, normalizer, factory, nil)
	r.wait = func(time.Duration) {}
	return &runnerFixture{runner: r, store: store, browser: br}
}

func (f *runnerFixture) settle(t *testing.T) status.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.store.Snapshot().Phase == status.PhaseSettled
	}, 5*time.Second, 10*time.Millisecond, "run never settled")
	return f.store.Snapshot()
}

func TestRunSucceedsEndToEnd(t *testing.T) {
	br := &fakeBrowser{
		challengeSrc: challengeURI(t, 300),
		width:        600,
		loginWorks:   true,
		statusLabel:  "准予",
	}
	f := newFixture(t, br, &stubRecognizer{box: captcha.Box{X: 150}, found: true})

	require.True(t, f.runner.Start("user", "pass", status.UserCorporate))
	snap := f.settle(t)

	assert.True(t, snap.Success)
	assert.Equal(t, "证件打印成功", snap.Message)
	assert.Equal(t, status.KindNone, snap.Kind)
	// (150-12) * 600/300 = 276 pixels actuated in one held drag.
	assert.Equal(t, 276, br.dragged)
	assert.Equal(t, 1, br.released)
	assert.True(t, br.closed, "browser must be torn down on success")
	assert.Contains(t, br.clicks, selCorporateTab)
	assert.Contains(t, br.clicks, selStatusTab)
	assert.Contains(t, br.clicks, selPrintButton)
}

func TestRunRejectsSecondSubmission(t *testing.T) {
	br := &fakeBrowser{
		challengeSrc: challengeURI(t, 300),
		width:        600,
		loginWorks:   true,
		statusLabel:  "准予",
		gate:         make(chan struct{}),
	}
	f := newFixture(t, br, &stubRecognizer{box: captcha.Box{X: 150}, found: true})

	require.True(t, f.runner.Start("user", "pass", status.UserCorporate))
	assert.False(t, f.runner.Start("user", "pass", status.UserCorporate),
		"admission must be single-flight")
	close(br.gate)

	f.settle(t)
	assert.True(t, f.runner.Start("user", "pass", status.UserCorporate),
		"admission must reopen after the run settles")
	f.settle(t)
}

func TestRunClassifiesBadCredentials(t *testing.T) {
	br := &fakeBrowser{
		challengeSrc: challengeURI(t, 300),
		width:        600,
		loginWorks:   false,
		tipReadable:  true,
		errTip:       "用户名或密码不正确",
	}
	f := newFixture(t, br, &stubRecognizer{box: captcha.Box{X: 150}, found: true})

	require.True(t, f.runner.Start("user", "wrong", status.UserCorporate))
	snap := f.settle(t)

	assert.False(t, snap.Success)
	assert.Equal(t, status.KindCredentials, snap.Kind)
	assert.Equal(t, "用户名或密码不正确", snap.Message)
	assert.True(t, br.closed, "browser must be torn down on failure")
}

func TestRunRetriesCaptchaMessagesThenGivesUp(t *testing.T) {
	br := &fakeBrowser{
		challengeSrc: challengeURI(t, 300),
		width:        600,
		loginWorks:   false,
		tipReadable:  true,
		errTip:       "请进行滑块验证",
	}
	f := newFixture(t, br, &stubRecognizer{box: captcha.Box{X: 150}, found: true})

	require.True(t, f.runner.Start("user", "pass", status.UserCorporate))
	snap := f.settle(t)

	assert.False(t, snap.Success)
	assert.Equal(t, status.KindRetryExhausted, snap.Kind)
	assert.Contains(t, snap.Message, "多次重试后仍然登录失败")
	// Initial drag plus one per retryable submission failure.
	assert.Equal(t, 3, br.released)
}

func TestRunFailsWhenTipUnreadable(t *testing.T) {
	br := &fakeBrowser{
		challengeSrc: challengeURI(t, 300),
		width:        600,
		loginWorks:   false,
		tipReadable:  false,
	}
	f := newFixture(t, br, &stubRecognizer{box: captcha.Box{X: 150}, found: true})

	require.True(t, f.runner.Start("user", "pass", status.UserCorporate))
	snap := f.settle(t)

	assert.False(t, snap.Success)
	assert.Equal(t, status.KindSystem, snap.Kind)
	assert.Equal(t, "登录失败，无法获取错误信息", snap.Message)
}

func TestRunReportsNotEligibleStatus(t *testing.T) {
	br := &fakeBrowser{
		challengeSrc: challengeURI(t, 300),
		width:        600,
		loginWorks:   true,
		statusLabel:  "审核中",
	}
	f := newFixture(t, br, &stubRecognizer{box: captcha.Box{X: 150}, found: true})

	require.True(t, f.runner.Start("user", "pass", status.UserCorporate))
	snap := f.settle(t)

	assert.False(t, snap.Success)
	assert.Equal(t, status.KindNotEligible, snap.Kind)
	assert.Contains(t, snap.Message, "审核中")
}

func TestRunFailsCaptchaWhenRecognizerNeverFinds(t *testing.T) {
	br := &fakeBrowser{
		challengeSrc: challengeURI(t, 300),
		width:        600,
	}
	f := newFixture(t, br, &stubRecognizer{found: false})

	require.True(t, f.runner.Start("user", "pass", status.UserCorporate))
	snap := f.settle(t)

	assert.False(t, snap.Success)
	assert.Equal(t, status.KindCaptchaExhausted, snap.Kind)
	assert.Equal(t, "验证码识别失败", snap.Message)
}

func TestRunFailsWhenDownloadDirUnreadable(t *testing.T) {
	br := &fakeBrowser{
		challengeSrc: challengeURI(t, 300),
		width:        600,
		loginWorks:   true,
		statusLabel:  "准予",
	}
	f := newFixture(t, br, &stubRecognizer{box: captcha.Box{X: 150}, found: true})
	f.runner.cfg.DownloadDir = filepath.Join(t.TempDir(), "gone")

	require.True(t, f.runner.Start("user", "pass", status.UserCorporate))
	snap := f.settle(t)

	assert.False(t, snap.Success)
	assert.Equal(t, status.KindSystem, snap.Kind)
	assert.Contains(t, snap.Message, "系统错误")
}

func TestRunFailsWithoutDocumentSelection(t *testing.T) {
	br := &fakeBrowser{}
	f := newFixture(t, br, &stubRecognizer{found: false})
	f.store.SetSelection(status.UserCorporate, "")

	require.True(t, f.runner.Start("user", "pass", status.UserCorporate))
	snap := f.settle(t)

	assert.False(t, snap.Success)
	assert.Equal(t, status.KindSystem, snap.Kind)
}
