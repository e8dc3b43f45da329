// Copyright 2025 Certen Protocol
//
// Group lifecycle bootstrap — provisioning a brand-new group on the
// administrator's side, and completing a join on a new member's side
// from an out-of-band MembershipInvite.

package syncctl

import (
	"fmt"

	"github.com/certen/logchain/pkg/accessproof"
	"github.com/certen/logchain/pkg/bbs"
	"github.com/certen/logchain/pkg/chain"
	"github.com/certen/logchain/pkg/hexcodec"
	"github.com/certen/logchain/pkg/mlsratchet"
	"github.com/certen/logchain/pkg/storage"
	"github.com/certen/logchain/pkg/transport"
)

// BootstrapGroup provisions a new group with the creator as its sole
// member and administrator: a fresh MLS state at epoch 0, a BBS+ group
// keypair with a self-issued credential, and a server registration
// carrying the group public key and the epoch-0 access key. The manager
// key is returned to the caller, who needs it to issue credentials to
// members added later; it is never persisted by this library.
func BootstrapGroup(puller transport.GroupPuller, backend storage.Backend, groupID []byte) (*bbs.ManagerPrivateKey, error) {
	state, err := mlsratchet.NewGroup(groupID)
	if err != nil {
		return nil, fmt.Errorf("syncctl: bootstrap group: %w", err)
	}
	mgr, err := bbs.Setup()
	if err != nil {
		return nil, fmt.Errorf("syncctl: bootstrap group: bbs setup: %w", err)
	}
	cred, err := mgr.Issue()
	if err != nil {
		return nil, fmt.Errorf("syncctl: bootstrap group: issue credential: %w", err)
	}

	typed := storage.New(backend)
	groupIDHex := hexcodec.EncodeHex(groupID)
	if err := typed.SaveGroupState(state); err != nil {
		return nil, fmt.Errorf("syncctl: bootstrap group: %w", err)
	}
	if err := typed.SaveMemberCredential(groupIDHex, cred); err != nil {
		return nil, fmt.Errorf("syncctl: bootstrap group: %w", err)
	}
	if err := typed.SaveGroupPublicKey(groupIDHex, &mgr.PublicKey); err != nil {
		return nil, fmt.Errorf("syncctl: bootstrap group: %w", err)
	}

	initialKey, err := accessproof.DeriveEpochAccessKey(state.GroupKey, groupID, state.Epoch)
	if err != nil {
		return nil, fmt.Errorf("syncctl: bootstrap group: derive access key: %w", err)
	}
	err = puller.CreateGroup(transport.CreateGroupRequest{
		GroupID:          groupIDHex,
		GroupPublicKey:   hexcodec.EncodeHex(mgr.PublicKey.Bytes()),
		InitialAccessKey: hexcodec.EncodeHex(initialKey.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("syncctl: bootstrap group: register: %w", err)
	}
	return mgr, nil
}

// JoinGroup completes a new member's join from an out-of-band invite:
// the welcome is decrypted with the member's leaf private key, the add
// handshake is applied to converge on the post-add group key and epoch,
// and the resulting state — plus the credential and group public key
// the administrator issued alongside the invite — is persisted so a
// GroupController can Initialize. The local chain head adopts the
// join_accepted entry's position: entries before it belong to epochs
// whose keys this member never held, and are not replayed.
func JoinGroup(backend storage.Backend, db string, invite *MembershipInvite, leafPrivateKey []byte, cred *bbs.MemberCredential, groupPK *bbs.GroupPublicKey) error {
	state, err := mlsratchet.JoinFromWelcome(invite.Welcome, leafPrivateKey)
	if err != nil {
		return fmt.Errorf("syncctl: join group: %w", err)
	}
	if err := state.ProcessHandshake(invite.Handshake); err != nil {
		return fmt.Errorf("syncctl: join group: process handshake: %w", err)
	}

	typed := storage.New(backend)
	groupIDHex := hexcodec.EncodeHex(state.GroupID)
	if err := typed.SaveGroupState(state); err != nil {
		return fmt.Errorf("syncctl: join group: %w", err)
	}
	if err := typed.SaveMemberCredential(groupIDHex, cred); err != nil {
		return fmt.Errorf("syncctl: join group: %w", err)
	}
	if err := typed.SaveGroupPublicKey(groupIDHex, groupPK); err != nil {
		return fmt.Errorf("syncctl: join group: %w", err)
	}
	if err := saveHead(backend, groupHeadKey(groupIDHex, db), chain.Head{Index: invite.Head.Index, Hash: invite.Head.Hash}); err != nil {
		return err
	}
	return nil
}
