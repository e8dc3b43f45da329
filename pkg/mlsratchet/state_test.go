package mlsratchet

import (
	"bytes"
	"testing"

	"github.com/certen/logchain/pkg/identity"
)

func TestNewGroupHasPopulatedRootSecret(t *testing.T) {
	state, err := NewGroup([]byte("group1"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	if len(state.GroupKey) != 32 {
		t.Fatalf("expected 32-byte group key, got %d", len(state.GroupKey))
	}
	if state.Epoch != 0 {
		t.Fatalf("expected epoch 0, got %d", state.Epoch)
	}
}

func TestSelfUpdateAdvancesEpochAndRekeys(t *testing.T) {
	state, err := NewGroup([]byte("group1"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	oldKey := append([]byte{}, state.GroupKey...)

	msg, err := state.Update()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if msg.Epoch != 1 {
		t.Fatalf("expected epoch 1, got %d", msg.Epoch)
	}
	if bytes.Equal(oldKey, state.GroupKey) {
		t.Fatalf("group key should change after a self update")
	}
}

func TestAddMemberAndProcessUpdatePath(t *testing.T) {
	creator, err := NewGroup([]byte("group1"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}

	newMemberPriv, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("generate member key: %v", err)
	}

	msg, welcome, err := creator.Add(newMemberPriv.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if welcome.LeafIndex != 1 {
		// First blank leaf after growing from 1 to 2 leaves is position 1.
		t.Fatalf("expected new member at leaf 1, got %d", welcome.LeafIndex)
	}
	if msg.Epoch != creator.Epoch {
		t.Fatalf("update-path message epoch should match creator's new epoch")
	}
}

// TestThreePartyGroupAgreementViaWelcome exercises a full multi-party join:
// a creator adds two members in turn, each joining via JoinFromWelcome and
// completing the join with ProcessUpdatePath exactly as an existing member
// would, and all three converge on matching group keys and epochs — first
// after both joins, then again after one member's self-update propagates.
func TestThreePartyGroupAgreementViaWelcome(t *testing.T) {
	creator, err := NewGroup([]byte("group1"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}

	member2Priv, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("generate member2 key: %v", err)
	}
	msg1, welcome1, err := creator.Add(member2Priv.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("add member2: %v", err)
	}
	if welcome1.Envelope == "" {
		t.Fatalf("welcome envelope must not be empty")
	}

	member2, err := JoinFromWelcome(welcome1, member2Priv.Bytes())
	if err != nil {
		t.Fatalf("member2 join from welcome: %v", err)
	}
	if err := member2.ProcessUpdatePath(msg1); err != nil {
		t.Fatalf("member2 process update path: %v", err)
	}

	if !bytes.Equal(creator.GroupKey, member2.GroupKey) {
		t.Fatalf("creator and member2 group keys diverge after join")
	}
	if creator.Epoch != member2.Epoch {
		t.Fatalf("creator and member2 epochs diverge after join")
	}

	member3Priv, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("generate member3 key: %v", err)
	}
	msg2, welcome2, err := creator.Add(member3Priv.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("add member3: %v", err)
	}
	if err := member2.ProcessUpdatePath(msg2); err != nil {
		t.Fatalf("member2 process second update path: %v", err)
	}

	member3, err := JoinFromWelcome(welcome2, member3Priv.Bytes())
	if err != nil {
		t.Fatalf("member3 join from welcome: %v", err)
	}
	if err := member3.ProcessUpdatePath(msg2); err != nil {
		t.Fatalf("member3 process update path: %v", err)
	}

	for _, member := range []*State{creator, member2, member3} {
		if !bytes.Equal(member.GroupKey, creator.GroupKey) {
			t.Fatalf("leaf %d group key diverges from creator's after three-party join", member.MyLeafIndex)
		}
		if member.Epoch != creator.Epoch {
			t.Fatalf("leaf %d epoch diverges from creator's after three-party join", member.MyLeafIndex)
		}
	}

	msg3, err := member2.Update()
	if err != nil {
		t.Fatalf("member2 self update: %v", err)
	}
	if err := creator.ProcessUpdatePath(msg3); err != nil {
		t.Fatalf("creator process member2's update: %v", err)
	}
	if err := member3.ProcessUpdatePath(msg3); err != nil {
		t.Fatalf("member3 process member2's update: %v", err)
	}

	for _, member := range []*State{creator, member2, member3} {
		if !bytes.Equal(member.GroupKey, member2.GroupKey) {
			t.Fatalf("leaf %d group key diverges from member2's after self-update", member.MyLeafIndex)
		}
		if member.Epoch != member2.Epoch {
			t.Fatalf("leaf %d epoch diverges from member2's after self-update", member.MyLeafIndex)
		}
	}
}

func TestRemoveRejectsSelfRemoval(t *testing.T) {
	creator, err := NewGroup([]byte("group1"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	if _, err := creator.Remove(creator.MyLeafIndex); err != ErrRemoveSelf {
		t.Fatalf("expected ErrRemoveSelf, got %v", err)
	}
}

func TestProcessUpdatePathRejectsWrongEpoch(t *testing.T) {
	creator, err := NewGroup([]byte("group1"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	bogus := &UpdatePathMessage{Epoch: 5}
	if err := creator.ProcessUpdatePath(bogus); err != ErrInvalidEpoch {
		t.Fatalf("expected ErrInvalidEpoch, got %v", err)
	}
}
