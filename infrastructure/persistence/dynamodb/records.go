package dynamodb

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
)

const (
	itemTypeNode   = "NODE"
	itemTypeMember = "MEMBER"
	metaSortKey    = "META"
)

// nodeRecord is the DynamoDB item structure shared by node and membership items
type nodeRecord struct {
	PK           string   `dynamodbav:"PK"`
	SK           string   `dynamodbav:"SK"`
	ItemType     string   `dynamodbav:"ItemType"`
	NodeID       string   `dynamodbav:"NodeID"`
	ParentID     string   `dynamodbav:"ParentID,omitempty"`
	GroupKey     string   `dynamodbav:"GroupKey"`
	Position     int      `dynamodbav:"Position"`
	Content      string   `dynamodbav:"Content"`
	ContentLower string   `dynamodbav:"ContentLower"`
	IsCompleted  bool     `dynamodbav:"IsCompleted"`
	IsExpanded   bool     `dynamodbav:"IsExpanded"`
	IsStarred    bool     `dynamodbav:"IsStarred"`
	Tags         []string `dynamodbav:"Tags"`
	Notes        string   `dynamodbav:"Notes"`
	MirrorID     string   `dynamodbav:"MirrorID,omitempty"`
	CreatedAt    string   `dynamodbav:"CreatedAt"`
	UpdatedAt    string   `dynamodbav:"UpdatedAt"`
}

func nodeKey(id valueobjects.NodeID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "NODE#" + id.String()},
		"SK": &types.AttributeValueMemberS{Value: metaSortKey},
	}
}

func groupPK(parentID valueobjects.NodeID) string {
	return "GROUP#" + parentID.GroupKey()
}

func memberKey(parentID, id valueobjects.NodeID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: groupPK(parentID)},
		"SK": &types.AttributeValueMemberS{Value: "NODE#" + id.String()},
	}
}

func toRecord(n *entities.Node) nodeRecord {
	s := n.Snapshot()
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	rec := nodeRecord{
		PK:           "NODE#" + s.ID.String(),
		SK:           metaSortKey,
		ItemType:     itemTypeNode,
		NodeID:       s.ID.String(),
		GroupKey:     s.ParentID.GroupKey(),
		Position:     s.Position,
		Content:      s.Content,
		ContentLower: strings.ToLower(s.Content),
		IsCompleted:  s.IsCompleted,
		IsExpanded:   s.IsExpanded,
		IsStarred:    s.IsStarred,
		Tags:         tags,
		Notes:        s.Notes,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    s.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !s.ParentID.IsZero() {
		rec.ParentID = s.ParentID.String()
	}
	if !s.MirrorID.IsZero() {
		rec.MirrorID = s.MirrorID.String()
	}
	return rec
}

// items returns the node item and the membership item of n
func items(n *entities.Node) (node, member map[string]types.AttributeValue, err error) {
	rec := toRecord(n)
	if node, err = attributevalue.MarshalMap(rec); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal node: %w", err)
	}

	rec.PK = groupPK(n.ParentID())
	rec.SK = "NODE#" + rec.NodeID
	rec.ItemType = itemTypeMember
	if member, err = attributevalue.MarshalMap(rec); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal membership: %w", err)
	}
	return node, member, nil
}

func fromItem(item map[string]types.AttributeValue) (*entities.Node, error) {
	var rec nodeRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}
	return rec.toNode()
}

func (r nodeRecord) toNode() (*entities.Node, error) {
	id, err := valueobjects.NewNodeIDFromString(r.NodeID)
	if err != nil {
		return nil, err
	}
	parentID, err := valueobjects.ParseOptionalNodeID(r.ParentID)
	if err != nil {
		return nil, err
	}
	mirrorID, err := valueobjects.ParseOptionalNodeID(r.MirrorID)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid CreatedAt on node %s: %w", r.NodeID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid UpdatedAt on node %s: %w", r.NodeID, err)
	}

	return entities.ReconstructNode(entities.NodeSnapshot{
		ID:          id,
		Content:     r.Content,
		ParentID:    parentID,
		Position:    r.Position,
		IsCompleted: r.IsCompleted,
		IsExpanded:  r.IsExpanded,
		IsStarred:   r.IsStarred,
		Tags:        r.Tags,
		Notes:       r.Notes,
		MirrorID:    mirrorID,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	})
}
