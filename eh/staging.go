package eh

const stagingSlots = 8

// stagingArea holds kernel-side copies of exception records received from the
// supervisor. Records arriving in mailbox replies are only borrowed for the
// duration of the receive handler; staging them gives the record storage the
// kernel owns.
type stagingArea struct {
	base  uint64
	next  int
	slots [stagingSlots]Exception
}

var staging stagingArea

// ResetBuffer clears the staging area and records its base address. Called
// once per run before the program image is loaded.
func ResetBuffer(base uint64) {
	staging = stagingArea{base: base}
}

// Stage copies e into the staging area and returns the staged copy. Slots are
// recycled oldest-first; a program holding more than stagingSlots propagating
// exceptions at once is out of contract.
func Stage(e *Exception) *Exception {
	s := &staging.slots[staging.next%stagingSlots]
	staging.next++
	*s = *e
	return s
}
