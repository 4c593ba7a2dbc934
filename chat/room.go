package chat

// RoomID returns the canonical room of two participants. The smaller id
// (byte-wise) always comes first, so RoomID(a, b) == RoomID(b, a).
func RoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "chat_" + a + "_" + b
}
