package codec

// Result-code translation tables (spec §6.2), lifted verbatim from the
// CloudTV Nano SDK's RfbtvProtocol.h/.cpp enums and ResultCode.h. These are
// wire-numeric on one side and internal variants on the other; they are the
// single source of truth for every direction of translation in this package.

// Version is the negotiated protocol version, selected once per session by
// ParseVersionString and then fixed for its lifetime.
type Version int

const (
	VersionUnknown Version = iota
	V1_3
	V2_0
)

func (v Version) String() string {
	switch v {
	case V1_3:
		return "001.001"
	case V2_0:
		return "002.000"
	default:
		return "unknown"
	}
}

// SessionSetupResult is the client-facing decode of SessionSetupResponse's
// numeric result field.
type SessionSetupResult int

const (
	SetupOk SessionSetupResult = iota
	SetupRedirect
	SetupInvalidClientId
	SetupAppNotFound
	SetupConfigError
	SetupNoResources
	SetupUnspecifiedError
	SetupInvalidParameters
	SetupInternalServerError
	SetupUndefinedError
)

// sessionSetupTable maps the server's numeric result code to the internal
// variant. Codes 3 and 7 both map to AppNotFound per the spec's table;
// this is intentional, not a typo. Code 255 (V2.0 only) is handled in
// DecodeSessionSetupResult and maps to UnspecifiedError, like 6.
var sessionSetupTable = map[uint8]SessionSetupResult{
	0: SetupOk,
	1: SetupRedirect,
	2: SetupInvalidClientId,
	3: SetupAppNotFound,
	4: SetupConfigError,
	5: SetupNoResources,
	6: SetupUnspecifiedError,
	7: SetupAppNotFound,
	8: SetupInvalidParameters,
	9: SetupInternalServerError,
}

// DecodeSessionSetupResult translates the server's numeric result field.
// Code 255 is only valid under V2.0; under V1.3 it also falls through to
// Undefined since V1.3 servers never legitimately send it.
func DecodeSessionSetupResult(code uint8, v Version) SessionSetupResult {
	if code == 255 && v == V2_0 {
		return SetupUnspecifiedError
	}
	if r, ok := sessionSetupTable[code]; ok {
		return r
	}
	return SetupUndefinedError
}

// SessionTerminateReason is the client-facing decode of
// SessionTerminateRequest's numeric result field.
type SessionTerminateReason int

const (
	TerminateUserStop SessionTerminateReason = iota
	TerminateInsufficientBandwidth
	TerminateLatencyTooLarge
	TerminateSuspend
	TerminateUnspecifiedError
	TerminateDoNotRetune
	TerminatePingTimeout
	TerminateInternalServerError
	TerminateServerShuttingDown
	TerminateFailedApplicationStreamSetup
	TerminateUndefinedError
)

var sessionTerminateTable = map[uint8]SessionTerminateReason{
	0:  TerminateUserStop,
	10: TerminateInsufficientBandwidth,
	11: TerminateLatencyTooLarge,
	12: TerminateSuspend,
	13: TerminateUnspecifiedError,
	14: TerminateDoNotRetune,
	15: TerminatePingTimeout,
	16: TerminateInternalServerError,
	17: TerminateServerShuttingDown,
	18: TerminateFailedApplicationStreamSetup,
}

// DecodeSessionTerminateReason translates the server's numeric reason code.
func DecodeSessionTerminateReason(code uint8, v Version) SessionTerminateReason {
	if code == 255 && v == V2_0 {
		return TerminateUnspecifiedError
	}
	if r, ok := sessionTerminateTable[code]; ok {
		return r
	}
	return TerminateUndefinedError
}

// ClientErrorCode is the numeric family published to the embedder, mirroring
// the "CloudTV Client Error Code Specification" v1.4 families named in spec
// §6.2. These values cross the package boundary via errors.ClientError.
type ClientErrorCode int

const (
	ClientErrorOk               ClientErrorCode = 0
	ClientErrorRefused          ClientErrorCode = 110
	ClientErrorBadVersion       ClientErrorCode = 115
	ClientErrorNoHostOrConfig   ClientErrorCode = 120
	ClientErrorConnectTimeout   ClientErrorCode = 130
	ClientErrorTooManyRedirects ClientErrorCode = 131
	ClientErrorAppOrId          ClientErrorCode = 140
	ClientErrorBandwidth        ClientErrorCode = 150
	ClientErrorResources        ClientErrorCode = 160
	ClientErrorLatency          ClientErrorCode = 170
	ClientErrorUnspecified      ClientErrorCode = 190
	ClientErrorPing             ClientErrorCode = 200
	ClientErrorInternalServer   ClientErrorCode = 210
	ClientErrorShutdown         ClientErrorCode = 220
	ClientErrorAppStream        ClientErrorCode = 230
	ClientErrorParams           ClientErrorCode = 240
	ClientErrorDoNotRetune      ClientErrorCode = 250
)

// ClientErrorForSetupResult maps a decoded SessionSetupResult to its client
// error code family.
func ClientErrorForSetupResult(r SessionSetupResult) ClientErrorCode {
	switch r {
	case SetupOk:
		return ClientErrorOk
	case SetupRedirect:
		return ClientErrorOk // redirect is not terminal by itself
	case SetupInvalidClientId, SetupAppNotFound:
		return ClientErrorAppOrId
	case SetupConfigError:
		return ClientErrorNoHostOrConfig
	case SetupNoResources:
		return ClientErrorResources
	case SetupInvalidParameters:
		return ClientErrorParams
	case SetupInternalServerError:
		return ClientErrorInternalServer
	default:
		return ClientErrorUnspecified
	}
}

// ClientErrorForTerminateReason maps a decoded SessionTerminateReason to its
// client error code family.
func ClientErrorForTerminateReason(r SessionTerminateReason) ClientErrorCode {
	switch r {
	case TerminateUserStop:
		return ClientErrorOk
	case TerminateInsufficientBandwidth:
		return ClientErrorBandwidth
	case TerminateLatencyTooLarge:
		return ClientErrorLatency
	case TerminateSuspend:
		return ClientErrorOk
	case TerminateDoNotRetune:
		return ClientErrorDoNotRetune
	case TerminatePingTimeout:
		return ClientErrorPing
	case TerminateInternalServerError:
		return ClientErrorInternalServer
	case TerminateServerShuttingDown:
		return ClientErrorShutdown
	case TerminateFailedApplicationStreamSetup:
		return ClientErrorAppStream
	default:
		return ClientErrorUnspecified
	}
}

// HandoffResultReason is the internal reason for a failed handoff, encoded
// to the wire via HandoffResultCode.
type HandoffResultReason int

const (
	HandoffUnsupportedURI HandoffResultReason = iota
	HandoffFailedToDescrambleStream
	HandoffFailedToDecodeStream
	HandoffNoTransportStreamWithIndicatedId
	HandoffNoNetworkWithIndicatedId
	HandoffNoProgramWithIndicatedId
	HandoffPhysicalLayerError
	HandoffRequiredMediaPlayerAbsent
	HandoffErroneousRequest
	HandoffAssetNotFound
	HandoffTransportLayerError
	HandoffPlayerError // carries a non-empty descriptive string
	HandoffAppNotFound
	HandoffOther
)

// HandoffResultCode translates the internal reason to its numeric wire code.
func HandoffResultCode(r HandoffResultReason) uint8 {
	switch r {
	case HandoffUnsupportedURI:
		return 22
	case HandoffFailedToDescrambleStream:
		return 30
	case HandoffFailedToDecodeStream:
		return 31
	case HandoffNoTransportStreamWithIndicatedId:
		return 32
	case HandoffNoNetworkWithIndicatedId:
		return 33
	case HandoffNoProgramWithIndicatedId:
		return 34
	case HandoffPhysicalLayerError:
		return 35
	case HandoffRequiredMediaPlayerAbsent:
		return 41
	case HandoffErroneousRequest:
		return 42
	case HandoffAssetNotFound:
		return 43
	case HandoffTransportLayerError:
		return 50
	case HandoffPlayerError:
		return 51
	case HandoffAppNotFound:
		return 52
	default:
		return 255
	}
}

// StreamSetupResponseCode is the internal result of a StreamSetupRequest.
type StreamSetupResponseCode int

const (
	StreamSetupSuccess StreamSetupResponseCode = iota
	StreamSetupCableTuningError
	StreamSetupIpResourceError
	StreamSetupUnsupportedUri
	StreamSetupConnectionFailed
	StreamSetupUnspecifiedError
)

// StreamSetupWireCode translates the internal result to its numeric wire
// code; ConnectionFailed and UnspecifiedError are version-dependent.
func StreamSetupWireCode(r StreamSetupResponseCode, v Version) uint8 {
	switch r {
	case StreamSetupSuccess:
		return 0
	case StreamSetupCableTuningError:
		return 20
	case StreamSetupIpResourceError:
		return 21
	case StreamSetupUnsupportedUri:
		return 22
	case StreamSetupConnectionFailed:
		if v == V1_3 {
			return 21
		}
		return 24
	default: // StreamSetupUnspecifiedError
		if v == V1_3 {
			return 21
		}
		return 255
	}
}

// StreamConfirmCode is the internal result reported via StreamConfirm.
type StreamConfirmCode int

const (
	StreamConfirmSuccess StreamConfirmCode = iota
	StreamConfirmDescrambleError
	StreamConfirmDecodeError
	StreamConfirmTsidError
	StreamConfirmNidError
	StreamConfirmPidError
	StreamConfirmPhysicalError
	StreamConfirmUnspecifiedError
)

// StreamConfirmWireCode translates the internal result to its numeric wire
// code; UnspecifiedError is version-dependent.
func StreamConfirmWireCode(r StreamConfirmCode, v Version) uint8 {
	switch r {
	case StreamConfirmSuccess:
		return 0
	case StreamConfirmDescrambleError:
		return 30
	case StreamConfirmDecodeError:
		return 31
	case StreamConfirmTsidError:
		return 32
	case StreamConfirmNidError:
		return 33
	case StreamConfirmPidError:
		return 34
	case StreamConfirmPhysicalError:
		return 35
	default: // StreamConfirmUnspecifiedError
		if v == V1_3 {
			return 36
		}
		return 255
	}
}

// CdmSessionSetupResult is the internal result of a CDM setup request,
// numbered per original_source's explicit enum (not sequential — these
// numbers are wire/ABI-stable and are used directly, unlike the other
// tables above which remap through a translation function).
type CdmSessionSetupResult uint8

const (
	CdmSetupSuccess               CdmSessionSetupResult = 0
	CdmSetupLicenseNotFound       CdmSessionSetupResult = 60
	CdmSetupDrmSystemNotInstalled CdmSessionSetupResult = 61
	CdmSetupDrmSystemError        CdmSessionSetupResult = 62
	CdmSetupNoLicenseServer       CdmSessionSetupResult = 68
	CdmSetupUnspecifiedError      CdmSessionSetupResult = 255
)

// CdmSessionTerminateReason is the internal reason for a CDM session
// terminating, reported back to the server via CdmTerminateIndication.
type CdmSessionTerminateReason int

const (
	CdmTerminateNormal CdmSessionTerminateReason = iota
	CdmTerminateLicenseExpired
	CdmTerminateLicenseRevoked
	CdmTerminateDrmSystemError
	CdmTerminateSessionReplaced
	CdmTerminateUnspecifiedError
)
