package scraper_pkg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	pw "github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"cfetarifa/tariff"
)

// Timeouts bounds every browser step. Load and Goto failures are fatal; the
// other waits are best effort.
type Timeouts struct {
	Goto       time.Duration
	LoadIdle   time.Duration
	Consent    time.Duration
	Controls   time.Duration
	Select     time.Duration
	Navigation time.Duration
	SelectIdle time.Duration
	Markers    time.Duration
	FinalIdle  time.Duration
	Settle     time.Duration
}

// DefaultTimeouts mirrors what the portal needs in practice.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Goto:       25 * time.Second,
		LoadIdle:   15 * time.Second,
		Consent:    1500 * time.Millisecond,
		Controls:   15 * time.Second,
		Select:     5 * time.Second,
		Navigation: 20 * time.Second,
		SelectIdle: 15 * time.Second,
		Markers:    15 * time.Second,
		FinalIdle:  8 * time.Second,
		Settle:     1500 * time.Millisecond,
	}
}

// Selector strategies, most specific first.
var (
	summerStartSelectors = []string{
		`select[id*="ddlMesInicioVerano"]`,
		`select[name*="ddlMesInicioVerano"]`,
		`xpath=//label[contains(., "comienza el verano")]/following::select[1]`,
		`xpath=//*[contains(.,"comienza el verano")]/following::select[1]`,
	}
	queryMonthSelectors = []string{
		`select[id*="ddlMesConsulta"]`,
		`select[name*="ddlMesConsulta"]`,
		`xpath=//label[contains(., "mes que deseas consultar")]/following::select[1]`,
		`xpath=//*[contains(.,"mes que deseas consultar")]/following::select[1]`,
		`xpath=(//select)[last()]`,
	}
	consentSelectors = []string{
		`button:has-text("Aceptar")`,
		`button:has-text("Acepto")`,
		`button:has-text("Entendido")`,
		`input[type="submit"][value*="Aceptar"]`,
		`input[type="button"][value*="Aceptar"]`,
		`a:has-text("Aceptar")`,
		`.modal.show button.close`,
		`button[aria-label*="Cerrar"]`,
		`button[aria-label*="Close"]`,
	}
)

const (
	tieredMarker = `text=/Consumo\s+b(á|a)sico|Intermedio|Excedente/i`
	dacMarker    = `text=/kWh|energ[ií]a/i`
)

// TariffPage is one request's view of the portal: the navigation steps plus
// access to the rendered documents. Close must release the browser context
// and the page.
type TariffPage interface {
	Load(ctx context.Context, url string) error
	DismissConsent(ctx context.Context) bool
	WaitForControls(ctx context.Context)
	SelectSummerStart(ctx context.Context, month int) bool
	SelectQueryMonth(ctx context.Context, month int) bool
	Settle(ctx context.Context, code tariff.Code)
	Scopes() []Scope
	Close() error
}

// domDriver is the part of a Playwright page the navigation steps drive.
// Element calls act on the first match of selector.
type domDriver interface {
	Count(selector string) (int, error)
	Visible(selector string) (bool, error)
	Click(selector string, timeout time.Duration) error
	SelectOption(selector string, values pw.SelectOptionValues, timeout time.Duration) error
	WaitAttached(selector string, timeout time.Duration) error
	// ExpectNavigation runs action and waits for the navigation it causes
	// to reach network idle.
	ExpectNavigation(action func() error, timeout time.Duration) error
	WaitIdle(timeout time.Duration) error
}

type pageDriver struct {
	page pw.Page
}

func (d pageDriver) first(selector string) pw.Locator {
	return d.page.Locator(selector).First()
}

func (d pageDriver) Count(selector string) (int, error) {
	return d.page.Locator(selector).Count()
}

func (d pageDriver) Visible(selector string) (bool, error) {
	return d.first(selector).IsVisible()
}

func (d pageDriver) Click(selector string, timeout time.Duration) error {
	return d.first(selector).Click(pw.LocatorClickOptions{Timeout: ms(timeout), Force: pw.Bool(true)})
}

func (d pageDriver) SelectOption(selector string, values pw.SelectOptionValues, timeout time.Duration) error {
	_, err := d.first(selector).SelectOption(values, pw.LocatorSelectOptionOptions{Timeout: ms(timeout)})
	return err
}

func (d pageDriver) WaitAttached(selector string, timeout time.Duration) error {
	return d.first(selector).WaitFor(pw.LocatorWaitForOptions{
		State:   pw.WaitForSelectorStateAttached,
		Timeout: ms(timeout),
	})
}

func (d pageDriver) ExpectNavigation(action func() error, timeout time.Duration) error {
	_, err := d.page.ExpectNavigation(action, pw.PageExpectNavigationOptions{
		WaitUntil: pw.WaitUntilStateNetworkidle,
		Timeout:   ms(timeout),
	})
	return err
}

func (d pageDriver) WaitIdle(timeout time.Duration) error {
	return d.page.WaitForLoadState(pw.PageWaitForLoadStateOptions{
		State:   pw.LoadStateNetworkidle,
		Timeout: ms(timeout),
	})
}

// Navigator is the Playwright backed TariffPage.
type Navigator struct {
	bctx     pw.BrowserContext
	page     pw.Page
	dom      domDriver
	timeouts Timeouts
	logger   *zap.Logger
}

var _ TariffPage = (*Navigator)(nil)

func newNavigator(bctx pw.BrowserContext, page pw.Page, timeouts Timeouts, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{bctx: bctx, page: page, dom: pageDriver{page: page}, timeouts: timeouts, logger: logger}
}

// optionChoice selects a dropdown option by value, falling back to label.
type optionChoice struct {
	value string
	label string
}

func ms(d time.Duration) *float64 {
	return pw.Float(float64(d.Milliseconds()))
}

// Load opens url and waits for the network to settle. Only the navigation
// itself can fail the request.
func (n *Navigator) Load(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
		Timeout:   ms(n.timeouts.Goto),
	})
	if err != nil {
		if errors.Is(err, pw.ErrTimeout) {
			return fmt.Errorf("%w: %s: %v", tariff.ErrNavigationTimeout, url, err)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	n.waitIdle(n.timeouts.LoadIdle, "initial load")
	return nil
}

// DismissConsent clicks the first visible acknowledgement button, if any.
func (n *Navigator) DismissConsent(ctx context.Context) bool {
	for _, sel := range consentSelectors {
		if ctx.Err() != nil {
			return false
		}
		visible, err := n.dom.Visible(sel)
		if err != nil || !visible {
			continue
		}
		if err := n.dom.Click(sel, n.timeouts.Consent); err != nil {
			n.logger.Debug("consent click failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		n.logger.Info("✅ Dismissed consent overlay", zap.String("selector", sel))
		n.waitIdle(n.timeouts.Consent, "after consent")
		return true
	}
	n.logger.Debug("ℹ️ No consent overlay visible")
	return false
}

// WaitForControls waits until a dropdown or a table is attached.
func (n *Navigator) WaitForControls(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := n.dom.WaitAttached("select, table", n.timeouts.Controls); err != nil {
		n.logger.Warn("⚠️ No select or table appeared", zap.Error(err))
	}
}

// SelectSummerStart picks the month in which summer begins.
func (n *Navigator) SelectSummerStart(ctx context.Context, month int) bool {
	return n.selectWithPostback(ctx, "summer start", summerStartSelectors, optionChoice{value: strconv.Itoa(month)})
}

// SelectQueryMonth picks the month to consult, by value or Spanish label.
func (n *Navigator) SelectQueryMonth(ctx context.Context, month int) bool {
	label := tariff.MonthLabel(month)
	if label == "" {
		label = strconv.Itoa(month)
	}
	return n.selectWithPostback(ctx, "query month", queryMonthSelectors, optionChoice{value: strconv.Itoa(month), label: label})
}

// selectWithPostback applies choice to the first control matched by the
// strategies. ASP.NET postbacks reload the page; when no navigation shows
// up the choice is applied again and a network idle wait confirms it.
func (n *Navigator) selectWithPostback(ctx context.Context, what string, strategies []string, choice optionChoice) bool {
	for _, sel := range strategies {
		if ctx.Err() != nil {
			return false
		}
		count, err := n.dom.Count(sel)
		if err != nil || count == 0 {
			continue
		}

		err = n.dom.ExpectNavigation(func() error {
			return n.applyChoice(sel, choice)
		}, n.timeouts.Navigation)
		if err != nil {
			n.logger.Debug("no postback navigation observed", zap.String("control", what), zap.String("selector", sel), zap.Error(err))
			if err := n.applyChoice(sel, choice); err != nil {
				n.logger.Debug("re-applying selection failed", zap.String("control", what), zap.Error(err))
			}
			n.waitIdle(n.timeouts.SelectIdle, what)
		}
		n.logger.Info("✅ Selected option", zap.String("control", what), zap.String("value", choice.value), zap.String("selector", sel))
		return true
	}
	n.logger.Warn("⚠️ Control not found", zap.String("control", what))
	return false
}

func (n *Navigator) applyChoice(selector string, choice optionChoice) error {
	err := n.dom.SelectOption(selector, pw.SelectOptionValues{Values: &[]string{choice.value}}, n.timeouts.Select)
	if err == nil || choice.label == "" {
		return err
	}
	if lerr := n.dom.SelectOption(selector, pw.SelectOptionValues{Labels: &[]string{choice.label}}, n.timeouts.Select); lerr != nil {
		return fmt.Errorf("select by value: %v; by label: %w", err, lerr)
	}
	return nil
}

// Settle waits for the tariff table text, network idle and a short render
// delay. None of these waits can fail the request.
func (n *Navigator) Settle(ctx context.Context, code tariff.Code) {
	marker := tieredMarker
	if code.IsDAC() {
		marker = dacMarker
	}
	if err := n.dom.WaitAttached(marker, n.timeouts.Markers); err != nil {
		n.logger.Debug("tariff text not seen in main document", zap.Error(err))
	}
	n.waitIdle(n.timeouts.FinalIdle, "final")

	select {
	case <-ctx.Done():
	case <-time.After(n.timeouts.Settle):
	}
}

// Scopes returns the main document followed by every embedded frame.
func (n *Navigator) Scopes() []Scope {
	main := n.page.MainFrame()
	scopes := []Scope{main}
	for _, f := range n.page.Frames() {
		if f == main {
			continue
		}
		scopes = append(scopes, f)
	}
	return scopes
}

// Close releases the browser context, then the page. Both are attempted
// whatever happens to the first.
func (n *Navigator) Close() error {
	var errs []error
	if err := n.bctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close context: %w", err))
	}
	if err := n.page.Close(); err != nil && !errors.Is(err, pw.ErrTargetClosed) {
		errs = append(errs, fmt.Errorf("close page: %w", err))
	}
	return errors.Join(errs...)
}

func (n *Navigator) waitIdle(d time.Duration, step string) {
	if err := n.dom.WaitIdle(d); err != nil {
		n.logger.Debug("network idle wait timed out", zap.String("step", step), zap.Error(err))
	}
}
