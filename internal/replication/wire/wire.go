// Package wire defines the msgpack encoding of everything that crosses the
// transport: the envelope the broker delivers, the routed function message
// inside it, and the per-function parameter payloads.
package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	"chaindir/pkg/domain"
	dErrors "chaindir/pkg/domain-errors"
)

// FunctionID selects which local operation an inbound message triggers. The
// dispatch table maps these to handlers; admins may rebind an id without a
// code change.
type FunctionID uint64

const (
	FnLinkAddress    FunctionID = 1
	FnUnlinkAddress  FunctionID = 2
	FnApproveAddress FunctionID = 3
	FnRevokeAddress  FunctionID = 4
)

// Envelope is one delivered message: the claimed source domain and sender,
// plus the encoded routed message. Sender identity is the only
// authentication input the router gets.
type Envelope struct {
	Source  domain.DomainID
	Sender  domain.Address
	Payload []byte
}

// RoutedMessage is a function call addressed to a replica: which function,
// who is calling, and the function-specific parameters.
type RoutedMessage struct {
	Fn     FunctionID
	Caller domain.Address
	Params []byte
}

// LinkParams are the parameters for FnLinkAddress and FnUnlinkAddress.
type LinkParams struct {
	ID        domain.IdentityID
	DomainID  domain.DomainID
	Address   domain.Address
	Timestamp domain.Timestamp
}

// ApprovalParams are the parameters for FnApproveAddress and
// FnRevokeAddress.
type ApprovalParams struct {
	ID        domain.IdentityID
	Address   domain.Address
	Timestamp domain.Timestamp
}

// UpdateRecord is the canonical description of one accepted link or unlink
// mutation. It is built exactly once per mutation and fanned out to every
// peer. Creator travels with the record so a replica seeing an identity for
// the first time can materialize it.
type UpdateRecord struct {
	ID        domain.IdentityID
	DomainID  domain.DomainID
	Address   domain.Address
	Added     bool
	Creator   domain.Address
	Timestamp domain.Timestamp
}

// Routed converts the record into the function message a peer's router will
// dispatch. The creator acts as the caller: a replica accepts the mutation
// under creator authority once the source domain is authenticated.
func (r UpdateRecord) Routed() (RoutedMessage, error) {
	fn := FnLinkAddress
	if !r.Added {
		fn = FnUnlinkAddress
	}
	params, err := LinkParams{
		ID:        r.ID,
		DomainID:  r.DomainID,
		Address:   r.Address,
		Timestamp: r.Timestamp,
	}.Encode()
	if err != nil {
		return RoutedMessage{}, err
	}
	return RoutedMessage{Fn: fn, Caller: r.Creator, Params: params}, nil
}

// ApprovalRecord describes one accepted approve or revoke, fanned out to
// peers so their approval sets converge with the origin's.
type ApprovalRecord struct {
	ID        domain.IdentityID
	Address   domain.Address
	Approved  bool
	Caller    domain.Address
	Timestamp domain.Timestamp
}

// Routed converts the record into its function message.
func (r ApprovalRecord) Routed() (RoutedMessage, error) {
	fn := FnApproveAddress
	if !r.Approved {
		fn = FnRevokeAddress
	}
	params, err := ApprovalParams{
		ID:        r.ID,
		Address:   r.Address,
		Timestamp: r.Timestamp,
	}.Encode()
	if err != nil {
		return RoutedMessage{}, err
	}
	return RoutedMessage{Fn: fn, Caller: r.Caller, Params: params}, nil
}

// DTOs keep raw []byte on the wire; typed conversions validate lengths at
// the boundary.

type envelopeDTO struct {
	Source  uint64 `msgpack:"src"`
	Sender  []byte `msgpack:"snd"`
	Payload []byte `msgpack:"pl"`
}

type routedDTO struct {
	Fn     uint64 `msgpack:"fn"`
	Caller []byte `msgpack:"clr"`
	Params []byte `msgpack:"prm"`
}

type linkParamsDTO struct {
	ID        []byte `msgpack:"id"`
	DomainID  uint64 `msgpack:"dom"`
	Address   []byte `msgpack:"adr"`
	Timestamp uint64 `msgpack:"ts"`
}

type approvalParamsDTO struct {
	ID        []byte `msgpack:"id"`
	Address   []byte `msgpack:"adr"`
	Timestamp uint64 `msgpack:"ts"`
}

func (e Envelope) Encode() ([]byte, error) {
	raw, err := msgpack.Marshal(envelopeDTO{
		Source:  uint64(e.Source),
		Sender:  e.Sender[:],
		Payload: e.Payload,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode envelope")
	}
	return raw, nil
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var dto envelopeDTO
	if err := msgpack.Unmarshal(raw, &dto); err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "decode envelope")
	}
	sender, err := toAddress(dto.Sender)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Source:  domain.DomainID(dto.Source),
		Sender:  sender,
		Payload: dto.Payload,
	}, nil
}

func (m RoutedMessage) Encode() ([]byte, error) {
	raw, err := msgpack.Marshal(routedDTO{
		Fn:     uint64(m.Fn),
		Caller: m.Caller[:],
		Params: m.Params,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode routed message")
	}
	return raw, nil
}

func DecodeRoutedMessage(raw []byte) (RoutedMessage, error) {
	var dto routedDTO
	if err := msgpack.Unmarshal(raw, &dto); err != nil {
		return RoutedMessage{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "decode routed message")
	}
	caller, err := toAddress(dto.Caller)
	if err != nil {
		return RoutedMessage{}, err
	}
	return RoutedMessage{
		Fn:     FunctionID(dto.Fn),
		Caller: caller,
		Params: dto.Params,
	}, nil
}

func (p LinkParams) Encode() ([]byte, error) {
	raw, err := msgpack.Marshal(linkParamsDTO{
		ID:        p.ID[:],
		DomainID:  uint64(p.DomainID),
		Address:   p.Address[:],
		Timestamp: uint64(p.Timestamp),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode link params")
	}
	return raw, nil
}

func DecodeLinkParams(raw []byte) (LinkParams, error) {
	var dto linkParamsDTO
	if err := msgpack.Unmarshal(raw, &dto); err != nil {
		return LinkParams{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "decode link params")
	}
	id, err := toIdentityID(dto.ID)
	if err != nil {
		return LinkParams{}, err
	}
	addr, err := toAddress(dto.Address)
	if err != nil {
		return LinkParams{}, err
	}
	return LinkParams{
		ID:        id,
		DomainID:  domain.DomainID(dto.DomainID),
		Address:   addr,
		Timestamp: domain.Timestamp(dto.Timestamp),
	}, nil
}

func (p ApprovalParams) Encode() ([]byte, error) {
	raw, err := msgpack.Marshal(approvalParamsDTO{
		ID:        p.ID[:],
		Address:   p.Address[:],
		Timestamp: uint64(p.Timestamp),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode approval params")
	}
	return raw, nil
}

func DecodeApprovalParams(raw []byte) (ApprovalParams, error) {
	var dto approvalParamsDTO
	if err := msgpack.Unmarshal(raw, &dto); err != nil {
		return ApprovalParams{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "decode approval params")
	}
	id, err := toIdentityID(dto.ID)
	if err != nil {
		return ApprovalParams{}, err
	}
	addr, err := toAddress(dto.Address)
	if err != nil {
		return ApprovalParams{}, err
	}
	return ApprovalParams{
		ID:        id,
		Address:   addr,
		Timestamp: domain.Timestamp(dto.Timestamp),
	}, nil
}

func toAddress(raw []byte) (domain.Address, error) {
	if len(raw) != len(domain.Address{}) {
		return domain.Address{}, dErrors.New(dErrors.CodeBadRequest, "address field must be 20 bytes")
	}
	var a domain.Address
	copy(a[:], raw)
	return a, nil
}

func toIdentityID(raw []byte) (domain.IdentityID, error) {
	if len(raw) != len(domain.IdentityID{}) {
		return domain.IdentityID{}, dErrors.New(dErrors.CodeBadRequest, "identity id field must be 32 bytes")
	}
	var id domain.IdentityID
	copy(id[:], raw)
	return id, nil
}
