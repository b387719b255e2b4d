package decks

// AddCard increments the quantity of an existing reference or appends a new one.
// The input list is never modified.
func AddCard(references []CardReference, externalID string, quantity int) []CardReference {
	updated := make([]CardReference, 0, len(references)+1)
	found := false
	for _, reference := range references {
		if reference.ExternalID == externalID {
			reference.Quantity += quantity
			found = true
		}
		updated = append(updated, reference)
	}
	if !found {
		updated = append(updated, CardReference{ExternalID: externalID, Quantity: quantity})
	}
	return updated
}

// RemoveCard drops the reference to externalID. When the reference is missing or is the
// last one left, the original list is returned with ErrReferenceNotFound or ErrWouldEmptyDeck.
func RemoveCard(references []CardReference, externalID string) ([]CardReference, error) {
	index := indexOf(references, externalID)
	if index < 0 {
		return references, ErrReferenceNotFound
	}
	if len(references) == 1 {
		return references, ErrWouldEmptyDeck
	}
	updated := make([]CardReference, 0, len(references)-1)
	updated = append(updated, references[:index]...)
	updated = append(updated, references[index+1:]...)
	return updated, nil
}

// SetQuantity replaces the quantity of an existing reference in place.
// Quantity validation is left to the caller.
func SetQuantity(references []CardReference, externalID string, quantity int) ([]CardReference, error) {
	index := indexOf(references, externalID)
	if index < 0 {
		return references, ErrReferenceNotFound
	}
	updated := cloneReferences(references)
	updated[index].Quantity = quantity
	return updated, nil
}

// MergeReferences collapses duplicate external ids, summing their quantities at the
// position of the first occurrence.
func MergeReferences(references []CardReference) []CardReference {
	merged := make([]CardReference, 0, len(references))
	for _, reference := range references {
		merged = AddCard(merged, reference.ExternalID, reference.Quantity)
	}
	return merged
}

func indexOf(references []CardReference, externalID string) int {
	for index, reference := range references {
		if reference.ExternalID == externalID {
			return index
		}
	}
	return -1
}
