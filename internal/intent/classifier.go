package intent

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/study-planner/internal/textnorm"
)

// maxConfirmationRunes bounds how long a bare confirmation can be.
const maxConfirmationRunes = 10

var (
	createVerbs = []string{
		"criar", "crie", "cria", "agendar", "agende", "marcar", "marque",
		"adicionar", "adicione", "create", "schedule", "add", "mark",
	}
	affirmatives = map[string]bool{
		"sim": true, "ok": true, "okay": true, "pode": true, "claro": true,
		"isso": true, "confirmo": true, "quero": true, "bora": true,
		"pode sim": true, "sim pode": true, "yes": true, "sure": true, "yep": true,
	}
	allQuantifiers = []string{"todos", "todas", "tudo", "all", "every", "everything"}
	deleteVerbs    = []string{
		"excluir", "exclua", "exclui", "deletar", "delete", "apagar", "apague",
		"remover", "remova", "cancelar", "cancele", "remove", "cancel", "erase",
	}
	calendarNouns = []string{
		"eventos", "evento", "atividades", "atividade", "agenda", "compromissos",
		"calendario", "events", "activities", "calendar",
	}
	editVerbs = []string{
		"editar", "edite", "alterar", "altere", "mudar", "mude", "modificar",
		"modifique", "remarcar", "reagendar", "edit", "change", "modify", "reschedule",
	}
	listWords = []string{
		"quais", "qual", "listar", "liste", "mostrar", "mostre", "mostra",
		"ver", "veja", "which", "list", "show", "see",
	}
)

type input struct {
	raw            string
	tokens         []string
	hasDateContext bool
}

type rule struct {
	name   string
	intent Intent
	match  func(in input) bool
}

// rules are evaluated top to bottom and the first match wins. Bulk deletion
// must stay ahead of single deletion: "excluir todos os eventos" also
// contains a plain deletion verb.
var rules = []rule{
	{
		name:   "create",
		intent: CreateEvent,
		match: func(in input) bool {
			return textnorm.ContainsAny(in.tokens, createVerbs...) || isConfirmation(in.raw)
		},
	},
	{
		name:   "delete_all",
		intent: DeleteAllEvents,
		match: func(in input) bool {
			return textnorm.ContainsAny(in.tokens, allQuantifiers...) &&
				textnorm.ContainsAny(in.tokens, deleteVerbs...) &&
				textnorm.ContainsAny(in.tokens, calendarNouns...)
		},
	},
	{
		name:   "delete",
		intent: DeleteEvent,
		match: func(in input) bool {
			return textnorm.ContainsAny(in.tokens, deleteVerbs...)
		},
	},
	{
		name:   "edit",
		intent: EditEvent,
		match: func(in input) bool {
			return textnorm.ContainsAny(in.tokens, editVerbs...)
		},
	},
	{
		name:   "list",
		intent: ListEvents,
		match: func(in input) bool {
			return in.hasDateContext || textnorm.ContainsAny(in.tokens, listWords...)
		},
	},
}

// Classify returns the intent for message. hasDateContext tells the
// classifier whether a date phrase was resolved for the same message; a date
// phrase alone is read as a listing request.
func Classify(message string, hasDateContext bool) Intent {
	in := input{
		raw:            message,
		tokens:         textnorm.Tokens(message),
		hasDateContext: hasDateContext,
	}
	for _, r := range rules {
		if r.match(in) {
			return r.intent
		}
	}
	return GeneralChat
}

// isConfirmation reports whether message is a short bare affirmative such as
// "sim" or "pode!".
func isConfirmation(message string) bool {
	trimmed := strings.TrimFunc(message, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxConfirmationRunes {
		return false
	}
	return affirmatives[strings.Join(textnorm.Tokens(trimmed), " ")]
}
