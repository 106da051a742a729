// Package automation drives the login → captcha → status check → fetch →
// print sequence as a single background run.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/Lvvv7/Intelligent-certificate/internal/archive"
	"github.com/Lvvv7/Intelligent-certificate/internal/captcha"
	"github.com/Lvvv7/Intelligent-certificate/internal/catalog"
	"github.com/Lvvv7/Intelligent-certificate/internal/config"
	"github.com/Lvvv7/Intelligent-certificate/internal/printer"
	"github.com/Lvvv7/Intelligent-certificate/internal/status"
	"github.com/Lvvv7/Intelligent-certificate/internal/telemetry"
)

// Portal selectors and pages.
const (
	selCorporateTab   = "//span[text()='法人登录']"
	selLegalUsername  = "#legal_login_name"
	selLegalPassword  = "#legal_pswd"
	selPersonUsername = "#person_login_name"
	selPersonPassword = "#person_pswd"

	selCaptchaImage   = "#mpanel2 .backImg"
	selCaptchaSlider  = "//div[@id='mpanel2']//div[contains(@class,'verify-move-block')]"
	selCaptchaRefresh = `//*[@id="mpanel2"]/div[1]/div/div/i`

	selLoginButton = `//*[@id="form_lists"]/div[1]/div[2]/button`
	selErrorTip    = ".err_tip .err_text"

	selStatusTab   = "#tab-second"
	selStatusLabel = "div.tni-status.tni-status__success"
	selMoreButton  = "/html/body/div[1]/div[2]/div/div[1]/div[2]/div/div[2]/div[2]/div/div/div[2]/div/div[3]/table/tbody/tr/td[7]/div/div/div/button"
	selPrintButton = "/html/body/ul/li[2]/button"

	certificatePageURL = "https://zhjg.scjdglj.gxzf.gov.cn:10001/TopFDOAS/topic/homePage.action?currentLink=foodOp"

	// approvedLabel is the only certificate status eligible for printing.
	approvedLabel = "准予"

	// maxSubmitAttempts bounds the captcha/submit retry cycle.
	maxSubmitAttempts = 3

	// submitWait is how long a click gets to navigate away from the login page.
	submitWait = time.Second
)

// Runner owns the status store and executes at most one run at a time.
type Runner struct {
	cfg        config.Config
	store      *status.Store
	catalog    *catalog.Catalog
	solver     *captcha.Solver
	dispatcher *printer.Dispatcher
	normalizer *archive.Normalizer
	newBrowser Factory
	logger     *slog.Logger

	// wait is replaced in tests to skip the fixed pacing sleeps.
	wait func(time.Duration)
}

// New wires a runner from its collaborators.
func New(cfg config.Config, store *status.Store, cat *catalog.Catalog, solver *captcha.Solver,
	dispatcher *printer.Dispatcher, normalizer *archive.Normalizer, newBrowser Factory, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:        cfg,
		store:      store,
		catalog:    cat,
		solver:     solver,
		dispatcher: dispatcher,
		normalizer: normalizer,
		newBrowser: newBrowser,
		logger:     logger,
		wait:       time.Sleep,
	}
}

// Start admits a run and executes it in the background. It returns false when
// another run is already processing; the caller never blocks on completion.
func (r *Runner) Start(username, password string, user status.UserType) bool {
	runID, ok := r.store.TryBegin(user)
	if !ok {
		telemetry.RunsRejected.Inc()
		return false
	}
	telemetry.RunsStarted.Inc()
	telemetry.RunInFlight.Set(1)

	logger := r.logger.With("run_id", runID, "user_type", string(user))
	go func() {
		out := r.execute(context.Background(), logger, username, password, user)
		r.store.Complete(out)
		telemetry.RunInFlight.Set(0)
		if out.Success {
			telemetry.RunsSucceeded.Inc()
			logger.Info("run settled", "message", out.Message)
			return
		}
		telemetry.RunsFailed.WithLabelValues(string(out.Kind)).Inc()
		logger.Error("run settled", "message", out.Message, "kind", string(out.Kind))
	}()
	return true
}

// execute is the run's outermost handler: every failure below is classified
// into an outcome here, and a panic settles the run instead of killing the
// process.
func (r *Runner) execute(ctx context.Context, logger *slog.Logger, username, password string, user status.UserType) (out status.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("run panicked", "panic", rec)
			out = failure(status.KindSystem, fmt.Sprintf("系统错误: %v", rec))
		}
	}()
	return r.run(ctx, logger, username, password, user)
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, username, password string, user status.UserType) status.Outcome {
	entry, ok := r.catalog.Lookup(r.store.DocumentType())
	if !ok {
		return failure(status.KindSystem, "未知的证件类型")
	}

	br, err := r.newBrowser(ctx)
	if err != nil {
		return failure(status.KindSystem, fmt.Sprintf("系统错误: %v", err))
	}
	// The session is released on every exit path, panics included.
	defer func() {
		if err := br.Close(); err != nil {
			logger.Error("browser teardown failed", "err", err)
		}
	}()

	if err := br.Navigate(ctx, entry.URL); err != nil {
		return failure(status.KindSystem, fmt.Sprintf("系统错误: %v", err))
	}
	logger.Info("login page opened", "document", entry.Label)

	if err := r.fillCredentials(ctx, br, user, username, password); err != nil {
		logger.Error("filling credentials failed", "err", err)
		return failure(status.KindForm, "填写登录信息失败")
	}

	if err := r.solveCaptcha(ctx, br); err != nil {
		logger.Error("captcha failed", "err", err)
		return failure(status.KindCaptchaExhausted, "验证码识别失败")
	}

	if out, ok := r.submitLogin(ctx, logger, br); !ok {
		return out
	}

	label, err := r.checkCertificateStatus(ctx, br)
	if err != nil {
		logger.Error("certificate status unavailable", "err", err)
		return failure(status.KindRetryExhausted, "无法获取证件状态")
	}
	logger.Info("certificate status read", "label", label)
	if label != approvedLabel {
		return failure(status.KindNotEligible, "证件状态不符合打印条件，当前状态："+label)
	}

	if err := r.exportCertificate(ctx, br); err != nil {
		logger.Error("export failed", "err", err)
		return failure(status.KindSystem, fmt.Sprintf("系统错误: %v", err))
	}

	if err := r.collectDownloads(logger); err != nil {
		return failure(status.KindSystem, fmt.Sprintf("系统错误: %v", err))
	}

	if err := r.dispatcher.Print(ctx, r.cfg.PrinterName, r.cfg.ExtractPath); err != nil {
		logger.Error("print dispatch failed", "err", err)
		return failure(status.KindPrinter, err.Error())
	}

	logger.Info("certificate printed")
	return status.Outcome{Success: true, Message: "证件打印成功"}
}

// fillCredentials selects the user-type tab and populates the matching login
// fields, pacing keystrokes like a person would.
func (r *Runner) fillCredentials(ctx context.Context, br Browser, user status.UserType, username, password string) error {
	userSel, passSel := selPersonUsername, selPersonPassword
	if user == status.UserCorporate {
		if err := br.Click(ctx, selCorporateTab); err != nil {
			return fmt.Errorf("switch to corporate tab: %w", err)
		}
		r.wait(1500 * time.Millisecond)
		userSel, passSel = selLegalUsername, selLegalPassword
	}

	if err := br.Clear(ctx, userSel); err != nil {
		return fmt.Errorf("clear username: %w", err)
	}
	if err := br.SendKeys(ctx, userSel, username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	r.wait(1300 * time.Millisecond)

	if err := br.Clear(ctx, passSel); err != nil {
		return fmt.Errorf("clear password: %w", err)
	}
	if err := br.SendKeys(ctx, passSel, password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	r.wait(1300 * time.Millisecond)
	return nil
}

// solveCaptcha holds the slider (the background only renders while held),
// resolves the drag distance, and actuates the trajectory.
func (r *Runner) solveCaptcha(ctx context.Context, br Browser) error {
	if err := br.Press(ctx, selCaptchaSlider); err != nil {
		return fmt.Errorf("grab slider: %w", err)
	}
	r.wait(time.Second)

	width, err := br.Width(ctx, selCaptchaImage)
	if err != nil {
		return fmt.Errorf("measure challenge: %w", err)
	}

	distance, err := r.solver.Solve(ctx, &pageChallenge{br: br}, width)
	if err != nil {
		return err
	}

	track := captcha.Trajectory(distance)
	for _, step := range track {
		if err := br.MoveBy(ctx, float64(step), rand.Float64()*2-1); err != nil {
			return fmt.Errorf("drag slider: %w", err)
		}
		r.wait(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
	if err := br.Release(ctx); err != nil {
		return fmt.Errorf("release slider: %w", err)
	}
	return nil
}

// submitLogin clicks the login control and watches for the navigation to
// leave the login page, classifying the error tip and retrying the captcha
// cycle for recoverable messages. The second return is false when the run
// must stop with the given outcome.
func (r *Runner) submitLogin(ctx context.Context, logger *slog.Logger, br Browser) (status.Outcome, bool) {
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		old, err := br.CurrentURL(ctx)
		if err != nil {
			return failure(status.KindSystem, fmt.Sprintf("系统错误: %v", err)), false
		}
		logger.Info("submitting login", "attempt", attempt)

		r.wait(time.Second)
		if err := br.Click(ctx, selLoginButton); err != nil {
			return failure(status.KindForm, "填写登录信息失败"), false
		}

		if err := br.WaitURLChange(ctx, old, submitWait); err == nil {
			logger.Info("login accepted, page navigated")
			return status.Outcome{}, true
		}

		tip, err := br.Text(ctx, selErrorTip)
		if err != nil {
			logger.Error("error tip unreadable", "err", err)
			return failure(status.KindSystem, "登录失败，无法获取错误信息"), false
		}
		tip = strings.TrimSpace(tip)
		logger.Info("login rejected", "tip", tip)

		verdict, kind := classifyLoginMessage(tip)
		switch verdict {
		case verdictRetry:
			if attempt == maxSubmitAttempts {
				return failure(status.KindRetryExhausted, "多次重试后仍然登录失败: "+tip), false
			}
			if err := r.solveCaptcha(ctx, br); err != nil {
				logger.Error("captcha retry failed", "err", err)
				if attempt == maxSubmitAttempts-1 {
					return failure(status.KindCaptchaExhausted, "验证码识别失败"), false
				}
			}
		default:
			if kind == status.KindCredentials {
				return failure(kind, "用户名或密码不正确"), false
			}
			return failure(kind, "登录失败: "+tip), false
		}
	}
	return failure(status.KindRetryExhausted, "登录超时或失败"), false
}

// checkCertificateStatus opens the certificate page and reads the status
// label. The portal needs the page loaded twice before the tab is clickable.
func (r *Runner) checkCertificateStatus(ctx context.Context, br Browser) (string, error) {
	for i := 0; i < 2; i++ {
		if err := br.Navigate(ctx, certificatePageURL); err != nil {
			return "", fmt.Errorf("open certificate page: %w", err)
		}
		r.wait(2 * time.Second)
	}
	if err := br.Click(ctx, selStatusTab); err != nil {
		return "", fmt.Errorf("select status tab: %w", err)
	}
	r.wait(2 * time.Second)

	label, err := br.Text(ctx, selStatusLabel)
	if err != nil {
		return "", fmt.Errorf("read status label: %w", err)
	}
	return strings.TrimSpace(label), nil
}

// exportCertificate triggers the portal's export action, which downloads the
// certificate archives into the configured download directory.
func (r *Runner) exportCertificate(ctx context.Context, br Browser) error {
	if err := br.Click(ctx, selMoreButton); err != nil {
		return fmt.Errorf("open actions menu: %w", err)
	}
	r.wait(2 * time.Second)
	if err := br.Click(ctx, selPrintButton); err != nil {
		return fmt.Errorf("trigger export: %w", err)
	}
	r.wait(2 * time.Second)
	return nil
}

// collectDownloads normalizes any downloaded archives into the extraction
// directory, resetting it first.
func (r *Runner) collectDownloads(logger *slog.Logger) error {
	entries, err := os.ReadDir(r.cfg.DownloadDir)
	if err != nil {
		return fmt.Errorf("scan downloads: %w", err)
	}
	if len(entries) == 0 {
		// Nothing downloaded; the dispatcher will report the empty folder.
		return nil
	}

	if err := os.RemoveAll(r.cfg.ExtractPath); err != nil {
		return fmt.Errorf("reset extraction dir: %w", err)
	}
	if err := os.MkdirAll(r.cfg.ExtractPath, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}

	results, err := r.normalizer.Normalize(r.cfg.DownloadDir, r.cfg.ExtractPath)
	if err != nil {
		return fmt.Errorf("normalize archives: %w", err)
	}
	for _, res := range results {
		if res.Err != nil {
			logger.Error("archive skipped", "archive", res.Archive, "err", res.Err)
		}
	}
	return nil
}

func failure(kind status.Kind, message string) status.Outcome {
	return status.Outcome{Success: false, Message: message, Kind: kind}
}

// pageChallenge adapts the browser session to the solver's provider port.
type pageChallenge struct {
	br Browser
}

func (p *pageChallenge) ChallengeImage(ctx context.Context) (string, error) {
	return p.br.Attribute(ctx, selCaptchaImage, "src")
}

func (p *pageChallenge) Refresh(ctx context.Context) error {
	return p.br.Click(ctx, selCaptchaRefresh)
}
