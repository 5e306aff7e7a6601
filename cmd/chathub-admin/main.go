package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/chathub-io/chathub/config"
	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/persistence"
	"github.com/chathub-io/chathub/types"
)

// A very simple CLI tool for the administration of chathub rooms and users.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	store, err := persistence.NewGormStore(globalConfig)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	ctx := context.Background()

	var cmdUser = &cobra.Command{
		Use:   "user",
		Short: "User administration",
	}
	var cmdUserCreate = &cobra.Command{
		Use:   "create [username]",
		Short: "Create user",
		Long:  `user create adds a new user with the given username. The user id is printed on success.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := &types.User{
				Id:       uuid.NewString(),
				Username: args[0],
			}
			if err := store.CreateUser(ctx, user); err != nil {
				globals.AppLogger.Error("could not create user", "error", err)
				return
			}
			fmt.Println(user.Id)
		},
	}
	var cmdUserShow = &cobra.Command{
		Use:   "show [user id]",
		Short: "Show user",
		Long:  `user show prints detail information about the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user, err := store.GetUser(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			printJSON(user)
		},
	}

	var cmdRoom = &cobra.Command{
		Use:   "room",
		Short: "Room administration",
	}
	var roomName string
	var roomIsGroup bool
	var cmdRoomCreate = &cobra.Command{
		Use:   "create [creator user id] [participant user id...]",
		Short: "Create room",
		Long:  `room create adds a new room with the given creator and participants. The creator becomes the first admin. The room id is printed on success.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			participants := make([]*types.User, 0, len(args))
			for _, id := range args {
				user, err := store.GetUser(ctx, id)
				if err != nil {
					globals.AppLogger.Error("could not get user", "user", id, "error", err)
					return
				}
				participants = append(participants, user)
			}
			room := &types.Room{
				Id:           uuid.NewString(),
				Name:         roomName,
				IsGroup:      roomIsGroup || len(participants) > 2,
				CreatorId:    participants[0].Id,
				Participants: participants,
				Admins:       participants[:1],
				Tags:         make(types.JSONStringMap),
			}
			if err := store.CreateRoom(ctx, room); err != nil {
				globals.AppLogger.Error("could not create room", "error", err)
				return
			}
			fmt.Println(room.Id)
		},
	}
	cmdRoomCreate.Flags().StringVar(&roomName, "name", "", "room name")
	cmdRoomCreate.Flags().BoolVar(&roomIsGroup, "group", false, "create as group room")

	var cmdRoomList = &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		Long:  `room list prints all rooms with their participants.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := store.GetRooms(ctx)
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			printJSON(rooms)
		},
	}
	var cmdRoomShow = &cobra.Command{
		Use:   "show [room id]",
		Short: "Show room",
		Long:  `room show prints detail information about the room with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room, err := store.GetRoom(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			printJSON(room)
		},
	}

	var addAsAdmin bool
	var cmdRoomAddMember = &cobra.Command{
		Use:   "add-member [room id] [user id...]",
		Short: "Add room members",
		Long:  `room add-member adds the given users to the room. Adding beyond two participants turns the room into a group.`,
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			room, err := store.AddParticipants(ctx, args[0], args[1:], addAsAdmin)
			if err != nil {
				globals.AppLogger.Error("could not add members", "error", err)
				return
			}
			printJSON(room)
		},
	}
	cmdRoomAddMember.Flags().BoolVar(&addAsAdmin, "admin", false, "add as admin")

	var cmdRoomRemoveMember = &cobra.Command{
		Use:   "remove-member [room id] [user id]",
		Short: "Remove room member",
		Long:  `room remove-member removes the given user from the room. The last admin of a group cannot be removed.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := store.RemoveParticipant(ctx, args[0], args[1]); err != nil {
				globals.AppLogger.Error("could not remove member", "error", err)
			}
		},
	}
	var cmdRoomPromote = &cobra.Command{
		Use:   "promote [room id] [user id]",
		Short: "Promote member to admin",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := store.PromoteAdmin(ctx, args[0], args[1]); err != nil {
				globals.AppLogger.Error("could not promote member", "error", err)
			}
		},
	}
	var cmdRoomTag = &cobra.Command{
		Use:   "tag [room id] [key] [value]",
		Short: "Set a room tag",
		Long:  `room tag sets one tag on the room. An empty value removes the tag.`,
		Args:  cobra.RangeArgs(2, 3),
		Run: func(cmd *cobra.Command, args []string) {
			value := ""
			if len(args) == 3 {
				value = args[2]
			}
			if err := store.SetRoomTag(ctx, args[0], args[1], value); err != nil {
				globals.AppLogger.Error("could not set room tag", "error", err)
			}
		},
	}
	var cmdRoomDemote = &cobra.Command{
		Use:   "demote [room id] [user id]",
		Short: "Demote admin to regular member",
		Long:  `room demote removes the admin role from the given user. The last admin of a group cannot be demoted.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := store.DemoteAdmin(ctx, args[0], args[1]); err != nil {
				globals.AppLogger.Error("could not demote member", "error", err)
			}
		},
	}

	var rootCmd = &cobra.Command{Use: "chathub-admin"}
	rootCmd.AddCommand(cmdUser)
	rootCmd.AddCommand(cmdRoom)
	cmdUser.AddCommand(cmdUserCreate, cmdUserShow)
	cmdRoom.AddCommand(cmdRoomCreate, cmdRoomList, cmdRoomShow, cmdRoomAddMember, cmdRoomRemoveMember, cmdRoomPromote, cmdRoomDemote, cmdRoomTag)
	rootCmd.Execute()
}

func printJSON(v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		globals.AppLogger.Error("could not marshal", "error", err)
		return
	}
	fmt.Println(string(out))
}
