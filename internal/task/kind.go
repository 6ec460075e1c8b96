package task

// Kind names a category of engine operation. At most one task of each
// kind runs at a time.
type Kind int

const (
	GenerateKeys Kind = iota
	RegisterAccount
	CheckCredentials
	RegisterPushToken
	UnregisterPushToken
	CreateSession
	AddressExists
	AddDraftAttachment
	SaveMessageAttachment
	SaveDraftAttachment
)

func (k Kind) String() string {
	switch k {
	case GenerateKeys:
		return "generate-keys"
	case RegisterAccount:
		return "register-account"
	case CheckCredentials:
		return "check-credentials"
	case RegisterPushToken:
		return "register-push-token"
	case UnregisterPushToken:
		return "unregister-push-token"
	case CreateSession:
		return "create-session"
	case AddressExists:
		return "address-exists"
	case AddDraftAttachment:
		return "add-draft-attachment"
	case SaveMessageAttachment:
		return "save-message-attachment"
	case SaveDraftAttachment:
		return "save-draft-attachment"
	default:
		return "unknown"
	}
}
