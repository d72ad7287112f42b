package dfu

import "fmt"

// DFU class requests (DFU 1.1 Table 3.2).
const (
	RequestDetach      = 0x00
	RequestDownload    = 0x01
	RequestUpload      = 0x02
	RequestGetStatus   = 0x03
	RequestClearStatus = 0x04
	RequestGetState    = 0x05
	RequestAbort       = 0x06
)

// Interface protocols of the application-specific DFU subclass.
const (
	ProtocolRuntime = 0x01 // Run-time interface of an application
	ProtocolDFUMode = 0x02 // DFU mode interface
)

// StatusSize is the length of a DFU_GETSTATUS response.
const StatusSize = 6

// DefaultTransferSize is the wTransferSize used when the configuration does
// not set one.
const DefaultTransferSize = 256

// DigestSize is the length of the image digest.
const DigestSize = 32

// State is the DFU device state (bState).
type State uint8

// DFU states (DFU 1.1 section 6.1.2).
const (
	StateAppIdle           State = 0
	StateAppDetach         State = 1
	StateIdle              State = 2
	StateDownloadSync      State = 3
	StateDownloadBusy      State = 4
	StateDownloadIdle      State = 5
	StateManifestSync      State = 6
	StateManifest          State = 7
	StateManifestWaitReset State = 8
	StateUploadIdle        State = 9
	StateError             State = 10
)

// String returns the state name used by the DFU specification.
func (s State) String() string {
	switch s {
	case StateAppIdle:
		return "appIDLE"
	case StateAppDetach:
		return "appDETACH"
	case StateIdle:
		return "dfuIDLE"
	case StateDownloadSync:
		return "dfuDNLOAD-SYNC"
	case StateDownloadBusy:
		return "dfuDNBUSY"
	case StateDownloadIdle:
		return "dfuDNLOAD-IDLE"
	case StateManifestSync:
		return "dfuMANIFEST-SYNC"
	case StateManifest:
		return "dfuMANIFEST"
	case StateManifestWaitReset:
		return "dfuMANIFEST-WAIT-RESET"
	case StateUploadIdle:
		return "dfuUPLOAD-IDLE"
	case StateError:
		return "dfuERROR"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Status is the result of the most recent request (bStatus).
type Status uint8

// DFU status codes (DFU 1.1 section 6.1.2).
const (
	StatusOK             Status = 0x00
	StatusErrTarget      Status = 0x01
	StatusErrFile        Status = 0x02
	StatusErrWrite       Status = 0x03
	StatusErrErase       Status = 0x04
	StatusErrCheckErased Status = 0x05
	StatusErrProg        Status = 0x06
	StatusErrVerify      Status = 0x07
	StatusErrAddress     Status = 0x08
	StatusErrNotDone     Status = 0x09
	StatusErrFirmware    Status = 0x0A
	StatusErrVendor      Status = 0x0B
	StatusErrUSBReset    Status = 0x0C
	StatusErrPOR         Status = 0x0D
	StatusErrUnknown     Status = 0x0E
	StatusErrStalledPkt  Status = 0x0F
)

// String returns a short status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErrTarget:
		return "errTARGET"
	case StatusErrFile:
		return "errFILE"
	case StatusErrWrite:
		return "errWRITE"
	case StatusErrErase:
		return "errERASE"
	case StatusErrCheckErased:
		return "errCHECK_ERASED"
	case StatusErrProg:
		return "errPROG"
	case StatusErrVerify:
		return "errVERIFY"
	case StatusErrAddress:
		return "errADDRESS"
	case StatusErrNotDone:
		return "errNOTDONE"
	case StatusErrFirmware:
		return "errFIRMWARE"
	case StatusErrVendor:
		return "errVENDOR"
	case StatusErrUSBReset:
		return "errUSBR"
	case StatusErrPOR:
		return "errPOR"
	case StatusErrUnknown:
		return "errUNKNOWN"
	case StatusErrStalledPkt:
		return "errSTALLEDPKT"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}
