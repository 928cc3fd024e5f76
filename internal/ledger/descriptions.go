package ledger

import "fmt"

// Deterministic description texts for auto-generated envelope entries. The
// reconciliation logic locates side-entries structurally (linked_entry_id for
// leftovers, the deposit tag for top-ups); these texts only keep the ledger
// readable and stable for external collaborators that generate them.

func depositDescription(envelopeName string) string {
	return fmt.Sprintf("Apertura busta %s", envelopeName)
}

func topUpDescription(envelopeName string, year, month int) string {
	return fmt.Sprintf("Accantonamento %s %02d/%d", envelopeName, month, year)
}

// LeftoverDescription is the text for the income entry returning unspent
// envelope surplus to the general budget after a financed purchase.
func LeftoverDescription(envelopeName string) string {
	return fmt.Sprintf("Avanzo busta %s", envelopeName)
}

// TopUpDescription is the exported form used by the creation collaborator.
func TopUpDescription(envelopeName string, year, month int) string {
	return topUpDescription(envelopeName, year, month)
}
