// Package prompt assembles the text sent to the generative-text provider.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/study-planner/internal/calendar"
	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/domain"
)

// MaxEvents caps how many events are embedded in one prompt.
const MaxEvents = 8

const noPeriod = "nenhum período específico"

const systemInstructions = `Você é um assistente de planejamento de estudos.
Ajude o estudante a organizar a agenda, responda em português de forma breve e
objetiva, e use apenas os eventos listados abaixo como fonte sobre a agenda.
Nunca invente eventos que não estejam na lista.`

// Input is everything a prompt embeds.
type Input struct {
	Message     string
	DateContext datecontext.DateContext
	Events      []domain.CalendarEvent
	Now         time.Time
	Intent      string
}

// Stats summarizes event progress for analysis prompts.
type Stats struct {
	Total          int
	ByStatus       map[domain.EventStatus]int
	CompletionRate float64
}

// NewStats computes status counts and the completed share of the events
// that were not cancelled.
func NewStats(events []domain.CalendarEvent) Stats {
	s := Stats{Total: len(events), ByStatus: calendar.StatusCounts(events)}
	active := s.Total - s.ByStatus[domain.StatusCancelled]
	if active > 0 {
		s.CompletionRate = float64(s.ByStatus[domain.StatusCompleted]) / float64(active)
	}
	return s
}

// Compose builds the chat prompt.
func Compose(in Input) string {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n\n")
	writeHeader(&b, in)
	b.WriteString("\nEventos relevantes:\n")
	writeEvents(&b, in.Events, in.Now.Location())
	writeMessage(&b, in.Message)
	return b.String()
}

// ComposeProgress builds the prompt for a progress analysis request.
func ComposeProgress(in Input, stats Stats) string {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\nAnalise o progresso do estudante e sugira próximos passos concretos.\n\n")
	writeHeader(&b, in)

	fmt.Fprintf(&b, "\nResumo do progresso:\n- Total de eventos: %d\n", stats.Total)
	for _, st := range []domain.EventStatus{
		domain.StatusScheduled, domain.StatusInProgress, domain.StatusCompleted, domain.StatusCancelled,
	} {
		fmt.Fprintf(&b, "- %s: %d\n", StatusLabel(st), stats.ByStatus[st])
	}
	fmt.Fprintf(&b, "- Taxa de conclusão: %.0f%%\n", stats.CompletionRate*100)

	b.WriteString("\nEventos relevantes:\n")
	writeEvents(&b, in.Events, in.Now.Location())
	writeMessage(&b, in.Message)
	return b.String()
}

// ComposeFallbackListing renders a deterministic listing reply used when the
// provider cannot answer.
func ComposeFallbackListing(in Input) string {
	var b strings.Builder
	if len(in.Events) == 0 {
		if in.DateContext.Label != "" {
			fmt.Fprintf(&b, "Você não tem eventos para %s.", in.DateContext.Label)
		} else {
			b.WriteString("Você não tem eventos agendados.")
		}
		return b.String()
	}
	if in.DateContext.Label != "" {
		fmt.Fprintf(&b, "Seus eventos para %s:\n", in.DateContext.Label)
	} else {
		b.WriteString("Seus próximos eventos:\n")
	}
	writeEvents(&b, in.Events, in.Now.Location())
	return strings.TrimRight(b.String(), "\n")
}

// StatusLabel is the Portuguese name of a status.
func StatusLabel(s domain.EventStatus) string {
	switch s {
	case domain.StatusScheduled:
		return "agendado"
	case domain.StatusInProgress:
		return "em andamento"
	case domain.StatusCompleted:
		return "concluído"
	case domain.StatusCancelled:
		return "cancelado"
	default:
		return string(s)
	}
}

func writeHeader(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "Data de hoje: %s (%s)\n",
		in.Now.Format("02/01/2006"), datecontext.WeekdayLabel(in.Now.Weekday()))
	label := in.DateContext.Label
	if label == "" {
		label = noPeriod
	}
	fmt.Fprintf(b, "Período consultado: %s\n", label)
	if in.Intent != "" {
		fmt.Fprintf(b, "Intenção detectada: %s\n", in.Intent)
	}
}

func writeEvents(b *strings.Builder, events []domain.CalendarEvent, loc *time.Location) {
	if len(events) == 0 {
		b.WriteString("(nenhum evento)\n")
		return
	}
	sorted := calendar.SortByStart(events)
	shown := sorted
	if len(shown) > MaxEvents {
		shown = shown[:MaxEvents]
	}
	for _, e := range shown {
		start, end := e.Start, e.End
		if loc != nil {
			start, end = start.In(loc), end.In(loc)
		}
		fmt.Fprintf(b, "- %s %s-%s: %s", start.Format("02/01"), start.Format("15:04"), end.Format("15:04"), e.Title)
		if e.Subject != "" && e.Subject != e.Title {
			fmt.Fprintf(b, " [%s]", e.Subject)
		}
		fmt.Fprintf(b, " (%s)\n", StatusLabel(e.Status))
	}
	if extra := len(sorted) - len(shown); extra > 0 {
		fmt.Fprintf(b, "... e mais %d evento(s)\n", extra)
	}
}

func writeMessage(b *strings.Builder, message string) {
	fmt.Fprintf(b, "\nMensagem do estudante:\n%s\n", message)
}
