package cjdnshdr

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Layer type numbers are outside the range used by gopacket/layers.
var (
	LayerTypeCjdnsRoute = gopacket.RegisterLayerType(2301, gopacket.LayerTypeMetadata{
		Name:    "CjdnsRoute",
		Decoder: gopacket.DecodeFunc(decodeRouteLayer),
	})
	LayerTypeCjdnsData = gopacket.RegisterLayerType(2302, gopacket.LayerTypeMetadata{
		Name:    "CjdnsData",
		Decoder: gopacket.DecodeFunc(decodeDataLayer),
	})
)

// RouteLayer exposes a RouteHeader as a gopacket layer.
type RouteLayer struct {
	layers.BaseLayer
	Header RouteHeader
}

func (l *RouteLayer) LayerType() gopacket.LayerType { return LayerTypeCjdnsRoute }

func (l *RouteLayer) CanDecode() gopacket.LayerClass { return LayerTypeCjdnsRoute }

// NextLayerType is the data header unless the frame is a control message.
func (l *RouteLayer) NextLayerType() gopacket.LayerType {
	if l.Header.IsCtrl() {
		return gopacket.LayerTypePayload
	}
	return LayerTypeCjdnsData
}

func (l *RouteLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if err := l.Header.Unmarshal(data); err != nil {
		df.SetTruncated()
		return err
	}
	l.BaseLayer = layers.BaseLayer{Contents: data[:RouteHeaderSize], Payload: data[RouteHeaderSize:]}
	return nil
}

func (l *RouteLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(RouteHeaderSize)
	if err != nil {
		return err
	}
	return l.Header.MarshalTo(bytes)
}

// DataLayer exposes a DataHeader as a gopacket layer.
type DataLayer struct {
	layers.BaseLayer
	Header DataHeader
}

func (l *DataLayer) LayerType() gopacket.LayerType { return LayerTypeCjdnsData }

func (l *DataLayer) CanDecode() gopacket.LayerClass { return LayerTypeCjdnsData }

func (l *DataLayer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (l *DataLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if err := l.Header.Unmarshal(data); err != nil {
		df.SetTruncated()
		return err
	}
	l.BaseLayer = layers.BaseLayer{Contents: data[:DataHeaderSize], Payload: data[DataHeaderSize:]}
	return nil
}

func (l *DataLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(DataHeaderSize)
	if err != nil {
		return err
	}
	return l.Header.MarshalTo(bytes)
}

func decodeRouteLayer(data []byte, p gopacket.PacketBuilder) error {
	l := &RouteLayer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return p.NextDecoder(l.NextLayerType())
}

func decodeDataLayer(data []byte, p gopacket.PacketBuilder) error {
	l := &DataLayer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return p.NextDecoder(l.NextLayerType())
}
