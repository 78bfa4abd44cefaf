package action

const (
	updatePrefix = `{"doc": `
	updateSuffix = `}`
)

// DocumentFor adapts doc to the key's action. Updates wrap the document as a
// partial doc without re-encoding it, so its original bytes are kept
// exactly; every other action passes doc through, including nil for deletes.
func DocumentFor(key Key, doc *string) *string {
	if key.Action != ActionUpdate || doc == nil {
		return doc
	}
	wrapped := updatePrefix + *doc + updateSuffix
	return &wrapped
}
