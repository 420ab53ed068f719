package fleet

// =============================================================================
// AVAILABILITY - Is a truck or driver committed to an active trip?
// =============================================================================

// IsTruckBusy reports whether any planned or ongoing trip uses the truck as
// tractor or trailer.
func IsTruckBusy(truckID TruckID, trips []Trip) bool {
	for _, t := range trips {
		if t.Status.IsActive() && t.UsesTruck(truckID) {
			return true
		}
	}
	return false
}

// IsDriverBusy reports whether any planned or ongoing trip has the driver.
func IsDriverBusy(driverID DriverID, trips []Trip) bool {
	for _, t := range trips {
		if t.Status.IsActive() && t.DriverID == driverID {
			return true
		}
	}
	return false
}

// AvailableTrucks filters active trucks of the given type (any type when
// empty) that no active trip uses.
func AvailableTrucks(trucks []Truck, trips []Trip, truckType TruckType) []Truck {
	idx := NewActivityIndex(trips)
	var out []Truck
	for _, tr := range trucks {
		if tr.Status != TruckActive {
			continue
		}
		if truckType != "" && tr.Type != truckType {
			continue
		}
		if idx.TruckBusy(tr.ID) {
			continue
		}
		out = append(out, tr)
	}
	return out
}

// AvailableDrivers filters drivers no active trip is assigned to.
func AvailableDrivers(drivers []Driver, trips []Trip) []Driver {
	idx := NewActivityIndex(trips)
	var out []Driver
	for _, d := range drivers {
		if !idx.DriverBusy(d.ID) {
			out = append(out, d)
		}
	}
	return out
}

// =============================================================================
// DELETION GUARDS
// =============================================================================

// CanDeleteDriver rejects deleting a driver with a planned or ongoing trip.
func CanDeleteDriver(driverID DriverID, trips []Trip) error {
	var refs []string
	for _, t := range trips {
		if t.Status.IsActive() && t.DriverID == driverID {
			refs = append(refs, string(t.ID))
		}
	}
	if len(refs) == 0 {
		return nil
	}
	return &DeletionBlockedError{
		Kind:       "driver",
		ID:         string(driverID),
		Reason:     "driver is assigned to an active trip",
		References: refs,
	}
}

// CanDeleteTruck rejects deleting a truck used by a planned or ongoing trip.
func CanDeleteTruck(truckID TruckID, trips []Trip) error {
	var refs []string
	for _, t := range trips {
		if t.Status.IsActive() && t.UsesTruck(truckID) {
			refs = append(refs, string(t.ID))
		}
	}
	if len(refs) == 0 {
		return nil
	}
	return &DeletionBlockedError{
		Kind:       "truck",
		ID:         string(truckID),
		Reason:     "truck is assigned to an active trip",
		References: refs,
	}
}

// CanDeleteTrip rejects deleting a trip referenced by any invoice, whatever
// the invoice status.
func CanDeleteTrip(tripID TripID, invoices []Invoice) error {
	var refs []string
	for _, inv := range invoices {
		if inv.TripID == tripID {
			refs = append(refs, string(inv.ID))
		}
	}
	if len(refs) == 0 {
		return nil
	}
	return &DeletionBlockedError{
		Kind:       "trip",
		ID:         string(tripID),
		Reason:     "trip is referenced by invoices",
		References: refs,
	}
}

// =============================================================================
// ACTIVITY INDEX - Incremental busy counts
// =============================================================================

// ActivityIndex counts active trips per truck and per driver. Build it once
// from a collection and keep it current with Track/Untrack/Replace instead of
// rescanning the trips on every question.
type ActivityIndex struct {
	trucks  map[TruckID]int
	drivers map[DriverID]int
}

func NewActivityIndex(trips []Trip) *ActivityIndex {
	idx := &ActivityIndex{
		trucks:  make(map[TruckID]int),
		drivers: make(map[DriverID]int),
	}
	for _, t := range trips {
		idx.Track(t)
	}
	return idx
}

// Track counts t if it is active.
func (idx *ActivityIndex) Track(t Trip) {
	idx.apply(t, 1)
}

// Untrack removes t if it was counted as active.
func (idx *ActivityIndex) Untrack(t Trip) {
	idx.apply(t, -1)
}

// Replace moves the counts of a trip from its previous to its current version.
func (idx *ActivityIndex) Replace(before, after Trip) {
	idx.Untrack(before)
	idx.Track(after)
}

func (idx *ActivityIndex) apply(t Trip, delta int) {
	if !t.Status.IsActive() {
		return
	}
	if t.DriverID != "" {
		bump(idx.drivers, t.DriverID, delta)
	}
	if t.TractorID != "" {
		bump(idx.trucks, t.TractorID, delta)
	}
	if t.TrailerID != "" && t.TrailerID != t.TractorID {
		bump(idx.trucks, t.TrailerID, delta)
	}
}

func bump[K comparable](m map[K]int, k K, delta int) {
	n := m[k] + delta
	if n <= 0 {
		delete(m, k)
		return
	}
	m[k] = n
}

func (idx *ActivityIndex) TruckBusy(id TruckID) bool   { return idx.trucks[id] > 0 }
func (idx *ActivityIndex) DriverBusy(id DriverID) bool { return idx.drivers[id] > 0 }

// ActiveTrips returns the number of active trips of the driver.
func (idx *ActivityIndex) ActiveTrips(id DriverID) int { return idx.drivers[id] }

// TruckTrips returns the number of active trips using the truck.
func (idx *ActivityIndex) TruckTrips(id TruckID) int { return idx.trucks[id] }
