package models

// CanTransition reports whether a transaction of the given type may move from one status to another.
// Same-status moves are allowed where the transition is idempotent.
func CanTransition(txType TransactionType, from, to StatusType) bool {
	if from == to {
		switch to {
		case StatusPaid, StatusCompleted, StatusCancelled, StatusExpired:
			return true
		}
		return false
	}
	if from.Terminal() {
		return false
	}

	switch to {
	case StatusPaid:
		return txType == TypeBuy && from == StatusReserved
	case StatusReadyForPickup:
		return txType == TypeBuy && (from == StatusReserved || from == StatusPaid)
	case StatusReadyToReceive:
		return txType == TypeSell && from == StatusReserved
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ReservationStatusFor maps a terminal transaction status onto the reservation status that must accompany it.
func ReservationStatusFor(s StatusType) (ReservationStatus, bool) {
	switch s {
	case StatusCompleted:
		return ReservationCommitted, true
	case StatusCancelled, StatusExpired:
		return ReservationReleased, true
	}
	return "", false
}
