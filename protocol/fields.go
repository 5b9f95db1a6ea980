package protocol

type fieldKind uint8

const (
	fieldIdentity fieldKind = iota
	fieldText
	fieldFlag
	fieldAddress
	fieldMessagePort
	fieldFilePort
	fieldFileName
	fieldSize
	fieldCode
)

// width is the fixed encoded size of the field, or 0 for length prefixed fields.
func (k fieldKind) width() int {
	switch k {
	case fieldFlag:
		return 1
	case fieldMessagePort, fieldFilePort, fieldCode:
		return 4
	case fieldSize:
		return 8
	default:
		return 0
	}
}

// limit is the largest payload a length prefixed field may declare.
func (k fieldKind) limit() int {
	switch k {
	case fieldIdentity:
		return MaxIdentityLength
	case fieldText:
		return MaxTextLength
	case fieldFileName:
		return MaxFileNameLength
	case fieldAddress:
		return 16
	default:
		return 0
	}
}

func (k fieldKind) String() string {
	switch k {
	case fieldIdentity:
		return "identity"
	case fieldText:
		return "text"
	case fieldFlag:
		return "flag"
	case fieldAddress:
		return "address"
	case fieldMessagePort:
		return "message port"
	case fieldFilePort:
		return "file port"
	case fieldFileName:
		return "file name"
	case fieldSize:
		return "size"
	case fieldCode:
		return "error code"
	default:
		return "field"
	}
}

// layouts lists the fields following the type code, in wire order.
var layouts = [numTypes][]fieldKind{
	TypeConnectRequest:         {fieldIdentity},
	TypeConnectResponse:        {fieldFlag},
	TypeConnectNotify:          {fieldIdentity},
	TypeMessage:                {fieldText},
	TypeMessageBroadcast:       {fieldIdentity, fieldText},
	TypeDisconnect:             {},
	TypeDisconnectNotify:       {fieldIdentity},
	TypePrivateRequest:         {fieldIdentity},
	TypePrivateRequestNotify:   {fieldIdentity},
	TypePrivateAccept:          {fieldIdentity},
	TypePrivateEstablishSource: {fieldIdentity, fieldAddress},
	TypePrivateEstablishDest:   {fieldIdentity, fieldAddress, fieldMessagePort, fieldFilePort},
	TypePrivatePorts:           {fieldIdentity, fieldMessagePort, fieldFilePort},
	TypePrivateMessage:         {fieldText},
	TypePrivateFile:            {fieldFileName, fieldSize},
	TypeError:                  {fieldCode},
}
