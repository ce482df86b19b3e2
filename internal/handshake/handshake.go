// Package handshake implements the two-party invitation protocol between a
// hub (requester) and spoke (accepter) account, for VPC peering and for
// intra-service master/member invitations.
package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
)

const (
	// PeerTypeVPCPeering connects two VPCs across accounts.
	PeerTypeVPCPeering = "vpc_peering"
	// PeerTypeGuardDuty links a member detector to the master detector.
	PeerTypeGuardDuty = "guard_duty"

	// RelationshipSelf is returned without any cloud call when hub and spoke
	// are the same account; there is nothing to hand-shake.
	RelationshipSelf = "MasterEqualsMember"

	// RelationshipDeleted marks a deleted peering after the not-found race.
	RelationshipDeleted = "deleted"
)

// Engine drives the handshake steps. Per-side clients are built from
// cross-account configs on each call, so a single engine serves both hub and
// spoke roles.
type Engine struct {
	cross services.CrossAccount

	newEC2       func(aws.Config) services.EC2
	newGuardDuty func(aws.Config) services.GuardDuty
}

// New creates a handshake engine.
func New(cross services.CrossAccount) *Engine {
	return &Engine{
		cross:        cross,
		newEC2:       services.NewEC2,
		newGuardDuty: services.NewGuardDuty,
	}
}

// DescribeResources records the current handshake state on both sides.
func (e *Engine) DescribeResources(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if shortCircuit(evt) {
		return evt, nil
	}
	switch evt.Properties().PeerType {
	case PeerTypeVPCPeering:
		return e.describePeering(ctx, evt)
	case PeerTypeGuardDuty:
		return e.describeDetectors(ctx, evt)
	}
	return nil, unknownPeerType(evt)
}

// CreateResources creates the hub-side resource that carries the invitation:
// the peering connection request, or the detector/member pair.
func (e *Engine) CreateResources(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if shortCircuit(evt) {
		return evt, nil
	}
	props := evt.Properties()
	switch props.PeerType {
	case PeerTypeVPCPeering:
		hub, err := e.hubEC2(ctx, evt)
		if err != nil {
			return nil, err
		}
		pc, err := hub.CreatePeeringConnection(ctx, props.HubVpcId, props.SpokeVpcId, props.SpokeAccountId, props.SpokeRegion)
		if err != nil {
			return nil, err
		}
		evt.PeeringConnectionId = pc.Id
		evt.RelationshipStatus = pc.Status
		return evt, nil

	case PeerTypeGuardDuty:
		return e.createDetectors(ctx, evt)
	}
	return nil, unknownPeerType(evt)
}

// SendInvitation issues the master-to-member invitation. Peering requests
// carry their own invitation, so only the relationship status is refreshed.
func (e *Engine) SendInvitation(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if shortCircuit(evt) {
		return evt, nil
	}
	props := evt.Properties()
	switch props.PeerType {
	case PeerTypeVPCPeering:
		return e.refreshPeeringStatus(ctx, evt)

	case PeerTypeGuardDuty:
		hub, err := e.hubGuardDuty(ctx, evt)
		if err != nil {
			return nil, err
		}
		unprocessed, err := hub.InviteMembers(ctx, evt.DetectorId, props.SpokeAccountId)
		if err != nil {
			return nil, err
		}
		evt.UnprocessedAccounts = unprocessed
		return evt, nil
	}
	return nil, unknownPeerType(evt)
}

// CheckInvitationStatus polls the invitation from the spoke's point of view.
func (e *Engine) CheckInvitationStatus(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if shortCircuit(evt) {
		return evt, nil
	}
	props := evt.Properties()
	switch props.PeerType {
	case PeerTypeVPCPeering:
		return e.refreshPeeringStatus(ctx, evt)

	case PeerTypeGuardDuty:
		spoke, err := e.spokeGuardDuty(ctx, evt)
		if err != nil {
			return nil, err
		}
		invitationID, masterAccountID, err := spoke.ListInvitations(ctx)
		if err != nil {
			return nil, err
		}
		evt.InvitationId = invitationID
		evt.MasterAccountId = masterAccountID
		if invitationID != "" {
			evt.RelationshipStatus = "Invited"
		}
		return evt, nil
	}
	return nil, unknownPeerType(evt)
}

// AcceptInvitation accepts on the spoke side and captures the post-accept
// state: the hub CIDR for peering, the master relationship for detectors.
func (e *Engine) AcceptInvitation(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if shortCircuit(evt) {
		return evt, nil
	}
	props := evt.Properties()
	switch props.PeerType {
	case PeerTypeVPCPeering:
		spoke, err := e.spokeEC2(ctx, evt)
		if err != nil {
			return nil, err
		}
		status, err := spoke.AcceptPeeringConnection(ctx, evt.PeeringConnectionId)
		if err != nil {
			return nil, err
		}
		evt.RelationshipStatus = status

		hub, err := e.hubEC2(ctx, evt)
		if err != nil {
			return nil, err
		}
		cidr, err := hub.DescribeVpcCidr(ctx, props.HubVpcId)
		if err != nil {
			return nil, err
		}
		evt.PeerCidr = cidr
		return evt, nil

	case PeerTypeGuardDuty:
		spoke, err := e.spokeGuardDuty(ctx, evt)
		if err != nil {
			return nil, err
		}
		if err := spoke.AcceptInvitation(ctx, evt.MemberDetectorId, evt.MasterAccountId, evt.InvitationId); err != nil {
			return nil, err
		}
		status, err := spoke.MasterRelationshipStatus(ctx, evt.MemberDetectorId)
		if err != nil {
			return nil, err
		}
		evt.RelationshipStatus = status
		return evt, nil
	}
	return nil, unknownPeerType(evt)
}

// DeleteResources tears the handshake down from the initiating side. The
// peering not-found race during eventual consistency counts as deleted.
func (e *Engine) DeleteResources(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if shortCircuit(evt) {
		return evt, nil
	}
	props := evt.Properties()
	switch props.PeerType {
	case PeerTypeVPCPeering:
		hub, err := e.hubEC2(ctx, evt)
		if err != nil {
			return nil, err
		}
		if err := hub.DeletePeeringConnection(ctx, evt.PeeringConnectionId); err != nil {
			if errors.Is(err, lzerrors.ErrPeeringConnectionNotFound) {
				evt.RelationshipStatus = RelationshipDeleted
				return evt, nil
			}
			return nil, err
		}
		evt.RelationshipStatus = RelationshipDeleted
		return evt, nil

	case PeerTypeGuardDuty:
		hub, err := e.hubGuardDuty(ctx, evt)
		if err != nil {
			return nil, err
		}
		if evt.DetectorId != "" {
			if err := hub.DeleteMembers(ctx, evt.DetectorId, props.SpokeAccountId); err != nil {
				return nil, err
			}
		}
		spoke, err := e.spokeGuardDuty(ctx, evt)
		if err != nil {
			return nil, err
		}
		if evt.MemberDetectorId != "" {
			if err := spoke.DeleteDetector(ctx, evt.MemberDetectorId); err != nil {
				return nil, err
			}
		}
		return evt, nil
	}
	return nil, unknownPeerType(evt)
}

func (e *Engine) describePeering(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	hub, err := e.hubEC2(ctx, evt)
	if err != nil {
		return nil, err
	}
	pc, err := hub.FindPeeringConnection(ctx, props.HubVpcId, props.SpokeVpcId)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		evt.PeeringConnectionId = ""
		evt.RelationshipStatus = ""
		return evt, nil
	}
	evt.PeeringConnectionId = pc.Id
	evt.RelationshipStatus = pc.Status
	evt.PeerCidr = pc.PeerCidr
	return evt, nil
}

func (e *Engine) refreshPeeringStatus(ctx context.Context, evt *event.Event) (*event.Event, error) {
	hub, err := e.hubEC2(ctx, evt)
	if err != nil {
		return nil, err
	}
	pc, err := hub.DescribePeeringConnection(ctx, evt.PeeringConnectionId)
	if err != nil {
		if errors.Is(err, lzerrors.ErrPeeringConnectionNotFound) {
			evt.RelationshipStatus = RelationshipDeleted
			return evt, nil
		}
		return nil, err
	}
	evt.RelationshipStatus = pc.Status
	return evt, nil
}

func (e *Engine) describeDetectors(ctx context.Context, evt *event.Event) (*event.Event, error) {
	hub, err := e.hubGuardDuty(ctx, evt)
	if err != nil {
		return nil, err
	}
	hubDetectors, err := hub.ListDetectors(ctx)
	if err != nil {
		return nil, err
	}
	if len(hubDetectors) > 0 {
		evt.DetectorId = hubDetectors[0]
	}

	spoke, err := e.spokeGuardDuty(ctx, evt)
	if err != nil {
		return nil, err
	}
	spokeDetectors, err := spoke.ListDetectors(ctx)
	if err != nil {
		return nil, err
	}
	if len(spokeDetectors) > 0 {
		evt.MemberDetectorId = spokeDetectors[0]
	}

	if evt.DetectorId != "" && evt.MemberDetectorId != "" {
		members, err := hub.ListMembers(ctx, evt.DetectorId)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.AccountId == evt.Properties().SpokeAccountId {
				evt.RelationshipStatus = m.RelationshipStatus
				break
			}
		}
	}
	return evt, nil
}

func (e *Engine) createDetectors(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	hub, err := e.hubGuardDuty(ctx, evt)
	if err != nil {
		return nil, err
	}
	if evt.DetectorId == "" {
		if evt.DetectorId, err = hub.CreateDetector(ctx); err != nil {
			return nil, err
		}
	}

	spoke, err := e.spokeGuardDuty(ctx, evt)
	if err != nil {
		return nil, err
	}
	if evt.MemberDetectorId == "" {
		if evt.MemberDetectorId, err = spoke.CreateDetector(ctx); err != nil {
			return nil, err
		}
	}

	unprocessed, err := hub.CreateMembers(ctx, evt.DetectorId, props.SpokeAccountId, props.SpokeEmail)
	if err != nil {
		return nil, err
	}
	evt.UnprocessedAccounts = unprocessed
	if len(unprocessed) > 0 {
		zerolog.Ctx(ctx).Warn().
			Strs("accounts", unprocessed).
			Msg("some member accounts were not processed")
	}
	return evt, nil
}

func (e *Engine) hubEC2(ctx context.Context, evt *event.Event) (services.EC2, error) {
	props := evt.Properties()
	cfg, err := e.cross.Config(ctx, props.HubAccountId, props.HubRegion)
	if err != nil {
		return nil, err
	}
	return e.newEC2(cfg), nil
}

func (e *Engine) spokeEC2(ctx context.Context, evt *event.Event) (services.EC2, error) {
	props := evt.Properties()
	cfg, err := e.cross.Config(ctx, props.SpokeAccountId, props.SpokeRegion)
	if err != nil {
		return nil, err
	}
	return e.newEC2(cfg), nil
}

func (e *Engine) hubGuardDuty(ctx context.Context, evt *event.Event) (services.GuardDuty, error) {
	props := evt.Properties()
	cfg, err := e.cross.Config(ctx, props.HubAccountId, props.HubRegion)
	if err != nil {
		return nil, err
	}
	return e.newGuardDuty(cfg), nil
}

func (e *Engine) spokeGuardDuty(ctx context.Context, evt *event.Event) (services.GuardDuty, error) {
	props := evt.Properties()
	cfg, err := e.cross.Config(ctx, props.SpokeAccountId, props.SpokeRegion)
	if err != nil {
		return nil, err
	}
	return e.newGuardDuty(cfg), nil
}

func shortCircuit(evt *event.Event) bool {
	props := evt.Properties()
	if props.HubAccountId != "" && props.HubAccountId == props.SpokeAccountId {
		evt.RelationshipStatus = RelationshipSelf
		return true
	}
	return false
}

func unknownPeerType(evt *event.Event) error {
	return fmt.Errorf("unknown peer type %q", evt.Properties().PeerType)
}
