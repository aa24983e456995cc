package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/skalibog/signalcheck/internal/analysis/orderbook"
	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/models"
)

// Стили отчета
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")
	mutedColor     = lipgloss.Color("#999999")

	appStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1)
	sectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#ffffff")).
				Background(secondaryColor).
				Padding(0, 1)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// RenderReport форматирует отчет цикла анализа для вывода в терминал
func RenderReport(report *models.MarketReport, cfg config.UIConfig) string {
	title := titleStyle.Render(fmt.Sprintf("%s  %s", report.Symbol, report.Timestamp.Format("2006-01-02 15:04:05")))

	sections := []string{title}
	if status := renderView(report.View); status != "" {
		sections = append(sections, status)
	}
	for _, ir := range report.Intervals {
		sections = append(sections, renderInterval(ir))
	}
	if cfg.ShowDepth {
		sections = append(sections, renderDepth(report.OrderBook, cfg))
	}
	sections = append(sections, mutedStyle.Render("цикл "+report.CycleID))

	return appStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// RenderReports форматирует отчеты всех символов в алфавитном порядке
func RenderReports(reports map[string]*models.MarketReport, cfg config.UIConfig) string {
	symbols := make([]string, 0, len(reports))
	for symbol := range reports {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	rendered := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		rendered = append(rendered, RenderReport(reports[symbol], cfg))
	}
	return strings.Join(rendered, "\n")
}

func renderView(view models.AggregateView) string {
	switch {
	case view.AllLoading:
		return lipgloss.NewStyle().Foreground(warningColor).Render("Загрузка всех интервалов...")
	case !view.HasAnyData && view.HasErrors:
		return lipgloss.NewStyle().Foreground(errorColor).Render("Нет данных: все интервалы с ошибками")
	case view.HasErrors:
		return lipgloss.NewStyle().Foreground(warningColor).Render("Часть интервалов недоступна")
	default:
		return ""
	}
}

func renderInterval(ir models.IntervalReport) string {
	header := sectionHeaderStyle.Render("ИНТЕРВАЛ " + ir.Interval)

	switch ir.State.Phase {
	case models.PhaseFailed:
		return lipgloss.JoinVertical(lipgloss.Left, header,
			lipgloss.NewStyle().Foreground(errorColor).Render("ошибка: "+ir.State.ErrorText()))
	case models.PhaseLoading, models.PhaseIdle:
		return lipgloss.JoinVertical(lipgloss.Left, header, mutedStyle.Render("загрузка..."))
	}
	if ir.Checklist == nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, mutedStyle.Render("нет данных"))
	}

	lines := []string{header, formatDirection(ir.Checklist)}
	for _, s := range ir.Checklist.Signals {
		lines = append(lines, fmt.Sprintf("%s %d. %-13s %s", statusMark(s.Status), s.Step, s.Label, mutedStyle.Render(s.Details)))
	}
	if setup := ir.Checklist.Setup; setup != nil {
		lines = append(lines, fmt.Sprintf("Вход %.4f  Стоп %.4f  Цель %.4f", setup.Entry, setup.StopLoss, setup.Target))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func formatDirection(result *models.ChecklistResult) string {
	var style lipgloss.Style
	var text string
	switch result.TrendDirection {
	case models.TrendBullish:
		style = lipgloss.NewStyle().Foreground(successColor).Bold(true)
		text = "ЛОНГ"
	case models.TrendBearish:
		style = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
		text = "ШОРТ"
	default:
		style = lipgloss.NewStyle().Foreground(warningColor)
		text = "НЕЙТРАЛЬНО"
	}
	return style.Render(fmt.Sprintf("%s (%d/%d)", text, result.MetCount, len(result.Signals)))
}

func statusMark(status models.SignalStatus) string {
	switch status {
	case models.StatusMet:
		return lipgloss.NewStyle().Foreground(successColor).Render("[+]")
	case models.StatusNotMet:
		return lipgloss.NewStyle().Foreground(errorColor).Render("[-]")
	default:
		return mutedStyle.Render("[?]")
	}
}

func renderDepth(report *models.DepthReport, cfg config.UIConfig) string {
	header := sectionHeaderStyle.Render("СТАКАН")
	if report == nil || report.Metrics == nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, mutedStyle.Render("стакан недоступен"))
	}

	m := report.Metrics
	lines := []string{
		header,
		fmt.Sprintf("Бид %.4f  Аск %.4f  Спред %.4f (%.3f%%)", m.BestBid, m.BestAsk, m.SpreadAbsolute, m.SpreadPercent),
		fmt.Sprintf("Глубина: биды %.3f  аски %.3f  дисбаланс %+.1f%%", m.BidDepthTotal, m.AskDepthTotal, m.DepthImbalancePercent),
	}

	if cfg.ShowWalls {
		walls := orderbook.OnlyWalls(report.Walls)
		if cfg.WallsLimit > 0 && len(walls) > cfg.WallsLimit {
			walls = walls[:cfg.WallsLimit]
		}
		for _, w := range walls {
			side, color := "аск", errorColor
			if w.IsBid {
				side, color = "бид", successColor
			}
			lines = append(lines, lipgloss.NewStyle().Foreground(color).
				Render(fmt.Sprintf("стена %s %.4f × %.3f", side, w.Price, w.Quantity)))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
