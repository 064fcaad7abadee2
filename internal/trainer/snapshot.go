package trainer

// SnapshotPolicy decides which batch indices get a visual snapshot.
// Batches, when set, lists them explicitly. Otherwise every Every-th batch
// starting at Offset is due. The zero value never fires.
type SnapshotPolicy struct {
	Every   int
	Offset  int
	Batches []int
}

// Due reports whether batch index i should be snapshotted.
func (p SnapshotPolicy) Due(i int) bool {
	if len(p.Batches) > 0 {
		for _, b := range p.Batches {
			if b == i {
				return true
			}
		}
		return false
	}
	if p.Every <= 0 || i < p.Offset {
		return false
	}
	return (i-p.Offset)%p.Every == 0
}
