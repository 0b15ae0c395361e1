package session

// KeyType names one namespace of session key records. The set is fixed by the
// underlying end-to-end-encryption protocol.
type KeyType string

const (
	KeyTypePreKey              KeyType = "pre-key"
	KeyTypeSession             KeyType = "session"
	KeyTypeSenderKey           KeyType = "sender-key"
	KeyTypeSenderKeyMemory     KeyType = "sender-key-memory"
	KeyTypeAppStateSyncKey     KeyType = "app-state-sync-key"
	KeyTypeAppStateSyncVersion KeyType = "app-state-sync-version"
	KeyTypeLIDMapping          KeyType = "lid-mapping"
	KeyTypeDeviceList          KeyType = "device-list"
	KeyTypeTCToken             KeyType = "tctoken"
)

// KeyTypes lists every valid key type.
var KeyTypes = []KeyType{
	KeyTypePreKey,
	KeyTypeSession,
	KeyTypeSenderKey,
	KeyTypeSenderKeyMemory,
	KeyTypeAppStateSyncKey,
	KeyTypeAppStateSyncVersion,
	KeyTypeLIDMapping,
	KeyTypeDeviceList,
	KeyTypeTCToken,
}

// Valid reports whether k is one of the known key types.
func (k KeyType) Valid() bool {
	for _, known := range KeyTypes {
		if k == known {
			return true
		}
	}
	return false
}

func (k KeyType) String() string {
	return string(k)
}
