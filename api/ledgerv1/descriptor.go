package ledgerv1

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FileName is the path the ledger schema is registered under.
const FileName = "piggybank/ledger/v1/ledger.proto"

const packageName = "piggybank.ledger.v1"

// File is the ledger schema. It is registered in protoregistry.GlobalFiles,
// so server reflection can describe the service.
var File protoreflect.FileDescriptor

type fieldSpec struct {
	name     string
	kind     descriptorpb.FieldDescriptorProto_Type
	typeName string // message fields only
	repeated bool
}

func stringField(name string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_STRING}
}

func doubleField(name string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_DOUBLE}
}

func messageField(name, typeName string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName: typeName}
}

var timestampType = "." + string((&timestamppb.Timestamp{}).ProtoReflect().Descriptor().FullName())

// field numbers follow declaration order
var messages = []struct {
	name   string
	fields []fieldSpec
}{
	{"MintRequest", []fieldSpec{stringField("amount"), stringField("lock_period")}},
	{"MintResponse", []fieldSpec{stringField("minted"), stringField("deposit_id")}},
	{"BurnRequest", []fieldSpec{stringField("amount")}},
	{"BurnDepositRequest", []fieldSpec{stringField("deposit_id"), stringField("amount")}},
	{"BurnResponse", []fieldSpec{stringField("burned"), stringField("penalty"), {name: "closed_deposits", kind: descriptorpb.FieldDescriptorProto_TYPE_STRING, repeated: true}}},
	{"GetBalanceRequest", nil},
	{"Deposit", []fieldSpec{
		stringField("id"), stringField("amount"), stringField("lock_period"),
		messageField("deposit_time", timestampType), messageField("matures_at", timestampType),
		doubleField("interest_rate"), doubleField("early_withdrawal_penalty"),
	}},
	{"BalanceResponse", []fieldSpec{
		stringField("available_balance"), stringField("locked_balance"), stringField("total_balance"), stringField("rewards_earned"),
		{name: "deposits", kind: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName: "." + packageName + ".Deposit", repeated: true},
	}},
	{"ApplyRewardsRequest", nil},
	{"ApplyRewardsResponse", []fieldSpec{stringField("credited")}},
}

var methods = []struct{ name, in, out string }{
	{"MintTokens", "MintRequest", "MintResponse"},
	{"BurnTokens", "BurnRequest", "BurnResponse"},
	{"BurnDeposit", "BurnDepositRequest", "BurnResponse"},
	{"GetBalance", "GetBalanceRequest", "BalanceResponse"},
	{"ApplyRewards", "ApplyRewardsRequest", "ApplyRewardsResponse"},
}

func fileProto() *descriptorpb.FileDescriptorProto {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(FileName),
		Package:    proto.String(packageName),
		Syntax:     proto.String("proto3"),
		Dependency: []string{(&timestamppb.Timestamp{}).ProtoReflect().Descriptor().ParentFile().Path()},
		Options:    &descriptorpb.FileOptions{GoPackage: proto.String("github.com/and161185/piggybank/api/ledgerv1")},
	}
	for _, m := range messages {
		dp := &descriptorpb.DescriptorProto{Name: proto.String(m.name)}
		for i, f := range m.fields {
			label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
			if f.repeated {
				label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
			}
			fp := &descriptorpb.FieldDescriptorProto{
				Name:   proto.String(f.name),
				Number: proto.Int32(int32(i + 1)),
				Label:  label.Enum(),
				Type:   f.kind.Enum(),
			}
			if f.typeName != "" {
				fp.TypeName = proto.String(f.typeName)
			}
			dp.Field = append(dp.Field, fp)
		}
		fdp.MessageType = append(fdp.MessageType, dp)
	}
	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("Ledger")}
	for _, m := range methods {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String("." + packageName + "." + m.in),
			OutputType: proto.String("." + packageName + "." + m.out),
		})
	}
	fdp.Service = []*descriptorpb.ServiceDescriptorProto{svc}
	return fdp
}

func init() {
	fd, err := protodesc.NewFile(fileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("ledgerv1: build descriptor: %v", err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("ledgerv1: register descriptor: %v", err))
	}
	File = fd
}

func descriptorOf(name protoreflect.Name) protoreflect.MessageDescriptor {
	return File.Messages().ByName(name)
}
