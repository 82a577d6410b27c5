package tabletop

// At most one character in a list may carry a given non-empty owner. The
// party proposing a new claim is responsible for clearing the previous one,
// so the emitted update already reflects the cleared state; remote receivers
// apply updates without re-running the clearing pass.

// OwnerIndex returns the index of the character owned by identity, or -1.
// Matching is case-insensitive.
func OwnerIndex(chars []Character, identity string) int {
	want := NormalizeOwner(identity)
	if want == "" {
		return -1
	}
	for i := range chars {
		if NormalizeOwner(chars[i].Owner) == want {
			return i
		}
	}
	return -1
}

// ClaimOwner assigns owner to chars[idx], first clearing that owner from
// every other element. A claim with an empty owner simply releases the card.
// Returns the indices whose owner was cleared as a side effect.
func ClaimOwner(chars []Character, idx int, owner string) []int {
	if idx < 0 || idx >= len(chars) {
		return nil
	}
	owner = NormalizeOwner(owner)

	var cleared []int
	if owner != "" {
		for i := range chars {
			if i == idx {
				continue
			}
			if NormalizeOwner(chars[i].Owner) == owner {
				chars[i].Owner = ""
				cleared = append(cleared, i)
			}
		}
	}
	chars[idx].Owner = owner
	return cleared
}
