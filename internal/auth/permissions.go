package auth

import "context"

// Permission codes referenced by route rules. Seeded at install time and
// ensured on startup.
const (
	PermRoomBook       = "meeting-room.book"
	PermRoomManage     = "meeting-room.manage"
	PermBookingApprove = "booking.approve"
	PermUserFreeze     = "user.freeze"
)

// BuiltinPermissions is the static permission catalog.
var BuiltinPermissions = []Permission{
	{Code: PermRoomBook, Description: "Book a meeting room"},
	{Code: PermRoomManage, Description: "Create and edit meeting rooms"},
	{Code: PermBookingApprove, Description: "Approve or reject bookings"},
	{Code: PermUserFreeze, Description: "Freeze user accounts"},
}

// EnsureBuiltins makes sure the predefined permissions exist.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions)
}
