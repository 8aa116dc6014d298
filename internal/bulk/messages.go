package bulk

import "fmt"

func pastParticiple(op string) string {
	switch op {
	case OpCreateMany:
		return "criado(s)"
	case OpUpdateMany:
		return "atualizado(s)"
	default:
		return "excluído(s)"
	}
}

// CelebrationMessage phrases a batch result for the user. Only results with
// at least one success are celebrated.
func CelebrationMessage(op string, res Result) string {
	verb := pastParticiple(op)
	if res.FailCount == 0 {
		return fmt.Sprintf("🎉 Pronto! %d evento(s) %s com sucesso.", res.SuccessCount, verb)
	}
	return fmt.Sprintf("✅ %d de %d evento(s) %s. %d não puderam ser processados.",
		res.SuccessCount, res.Total, verb, res.FailCount)
}

// SummaryMessage phrases any batch result, including empty and fully failed
// ones, for the chat reply.
func SummaryMessage(op string, res Result) string {
	switch {
	case res.Total == 0:
		return "Não encontrei eventos correspondentes."
	case res.SuccessCount == 0:
		return fmt.Sprintf("Não consegui processar nenhum dos %d evento(s). Tente novamente.", res.Total)
	default:
		return CelebrationMessage(op, res)
	}
}
